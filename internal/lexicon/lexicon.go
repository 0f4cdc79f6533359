// Package lexicon holds the user-facing texts in the languages the bot
// speaks.
package lexicon

// Language codes of the ad-form templates.
const (
	LangRU = "ru"
	LangEN = "en"
	LangKA = "ka"
)

// DefaultLanguage is assumed until the user picks one.
const DefaultLanguage = LangRU

// Languages lists the selectable languages in display order.
var Languages = []struct {
	Code  string
	Label string
}{
	{LangRU, "🇷🇺 Русский"},
	{LangEN, "🇬🇧 English"},
	{LangKA, "🇬🇪 ქართული"},
}

// SelectLanguage is the trilingual language picker prompt.
const SelectLanguage = "🇷🇺 Выберите язык\n🇬🇧 Select language\n🇬🇪 აირჩიეთ ენა"

var adForms = map[string]string{
	LangRU: `📝 Для размещения объявления отправьте:

📷 Фото/видео автомобиля (можно несколько)

И в описании укажите:
• Марка и модель автомобиля
• Год выпуска
• Пробег
• VIN номер
• Тип и объём двигателя
• Город
• Контакты (телефон и/или @username)
• Цена`,
	LangEN: `📝 To place an ad, send:

📷 Photos/videos of the car (you can send multiple)

Include in the description:
• Car brand and model
• Year of manufacture
• Mileage
• VIN number
• Engine type and volume
• City
• Contacts (phone and/or @username)
• Price`,
	LangKA: `📝 განცხადების განსათავსებლად გამოაგზავნეთ:

📷 მანქანის ფოტო/ვიდეო (შეგიძლიათ რამდენიმე)

აღწერაში მიუთითეთ:
• მანქანის მარკა და მოდელი
• გამოშვების წელი
• გარბენი
• VIN ნომერი
• ძრავის ტიპი და მოცულობა
• ქალაქი
• კონტაქტები (ტელეფონი და/ან @username)
• ფასი`,
}

// AdForm returns the ad submission template for lang, falling back to
// the default language for unknown codes.
func AdForm(lang string) string {
	if form, ok := adForms[lang]; ok {
		return form
	}
	return adForms[DefaultLanguage]
}

// Known reports whether lang is a supported language code.
func Known(lang string) bool {
	_, ok := adForms[lang]
	return ok
}
