package config

import (
	"errors"
	"fmt"
)

// Config represents the root configuration structure for avtobot.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
}

// TelegramConfig holds the bot identity and the chats it operates on.
type TelegramConfig struct {
	Token      string  `json:"token" env:"AVTOBOT_TELEGRAM_TOKEN"`
	AdminIDs   []int64 `json:"adminIds" env:"AVTOBOT_ADMIN_IDS"`
	GroupID    int64   `json:"groupId" env:"AVTOBOT_GROUP_ID"`
	ChannelID  int64   `json:"channelId" env:"AVTOBOT_CHANNEL_ID"`
	ChannelURL string  `json:"channelUrl" env:"AVTOBOT_CHANNEL_URL"`
}

// OpenAIConfig holds the text generation provider settings.
type OpenAIConfig struct {
	APIKey string `json:"apiKey" env:"AVTOBOT_OPENAI_API_KEY"`
	Model  string `json:"model" env:"AVTOBOT_OPENAI_MODEL"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN string `json:"dsn" env:"AVTOBOT_DATABASE_DSN"`
}

// StorageConfig holds the S3-compatible object storage settings.
type StorageConfig struct {
	Bucket    string `json:"bucket" env:"AVTOBOT_S3_BUCKET"`
	Region    string `json:"region" env:"AVTOBOT_S3_REGION"`
	Endpoint  string `json:"endpoint" env:"AVTOBOT_S3_ENDPOINT"`
	AccessKey string `json:"accessKey" env:"AVTOBOT_S3_ACCESS_KEY"`
	SecretKey string `json:"secretKey" env:"AVTOBOT_S3_SECRET_KEY"`
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Storage: StorageConfig{
			Region: "us-east-1",
		},
	}
}

// Validate checks that everything the bot cannot run without is set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is not set")
	}
	if c.Telegram.GroupID == 0 {
		return errors.New("moderation group id is not set")
	}
	if c.Telegram.ChannelID == 0 {
		return errors.New("publication channel id is not set")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return errors.New("at least one admin id is required")
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is not set")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage bucket is not set")
	}
	return nil
}

// IsAdmin reports whether id belongs to a configured operator.
func (c *Config) IsAdmin(id int64) bool {
	for _, admin := range c.Telegram.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// Redacted returns a printable summary without secrets.
func (c *Config) Redacted() string {
	return fmt.Sprintf("group=%d channel=%d admins=%d model=%s bucket=%s",
		c.Telegram.GroupID, c.Telegram.ChannelID, len(c.Telegram.AdminIDs),
		c.OpenAI.Model, c.Storage.Bucket)
}
