// Package locale はコース言語・サイト言語の静的テーブルと、エラーメッセージの翻訳を提供する。
package locale

import "strings"

// Language は言語テーブルの1エントリを表す。
// ViewBoxは国旗スプライト内の表示領域。
type Language struct {
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
	ViewBox    string `json:"viewBox"`
	Code       string `json:"code"`
}

// DefaultCourseLanguage は新規ユーザーの既定コース言語（Oromo）。
const DefaultCourseLanguage = "or"

var courseLanguages = []Language{
	{Name: "Oromo", NativeName: "Oromiya", ViewBox: "0 1584 82 66", Code: "or"},
	{Name: "Amharic", NativeName: "አማርኛ", ViewBox: "0 1650 82 66", Code: "am"},
	{Name: "Italian", NativeName: "Italiano", ViewBox: "0 330 82 66", Code: "it"},
	{Name: "Turkish", NativeName: "Türkçe", ViewBox: "0 660 82 66", Code: "tr"},
	{Name: "Ukrainian", NativeName: "Українською", ViewBox: "0 1716 82 66", Code: "uk"},
	{Name: "Vietnamese", NativeName: "Tiếng Việt", ViewBox: "0 1188 82 66", Code: "vi"},
	{Name: "Chinese", NativeName: "中文", ViewBox: "0 462 82 66", Code: "code-CN"},
}

var siteLanguages = []Language{
	{Name: "Oromo", NativeName: "Oromiya", ViewBox: "0 1584 82 66", Code: "or"},
	{Name: "Amharic", NativeName: "አማርኛ", ViewBox: "0 1650 82 66", Code: "am"},
	{Name: "English", NativeName: "English", ViewBox: "0 0 82 66", Code: "en"},
}

// Languages は学習可能なコース言語の一覧を返す。返り値はコピーのため変更しても影響しない。
func Languages() []Language {
	out := make([]Language, len(courseLanguages))
	copy(out, courseLanguages)
	return out
}

// FindLanguage はコードに一致するコース言語を返す。
func FindLanguage(code string) (Language, bool) {
	for _, l := range courseLanguages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// DefaultLanguage は既定のコース言語（Oromo）を返す。
func DefaultLanguage() Language {
	return courseLanguages[0]
}

// SiteLanguages はサイト表示言語の選択肢を返す。
func SiteLanguages() []Language {
	out := make([]Language, len(siteLanguages))
	copy(out, siteLanguages)
	return out
}

// DefaultSiteLanguage は既定のサイト表示言語（English）を返す。
func DefaultSiteLanguage() Language {
	return siteLanguages[2]
}

// ResolveLocale は言語コードを翻訳テーブルのロケールに解決する。
// "am"で始まるコードはam、それ以外はenとなる。
func ResolveLocale(code string) string {
	if strings.HasPrefix(strings.ToLower(code), LocaleAmharic) {
		return LocaleAmharic
	}
	return LocaleEnglish
}
