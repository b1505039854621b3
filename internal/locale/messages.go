package locale

import (
	"golang.org/x/text/language"

	"github.com/hitoshi/lengo/internal/model"
)

// 翻訳テーブルを持つロケール
const (
	LocaleEnglish = "en"
	LocaleAmharic = "am"
)

// SiteLocales は翻訳テーブルを持つロケールの一覧。先頭が既定値。
var SiteLocales = []string{LocaleEnglish, LocaleAmharic}

var matcher = language.NewMatcher([]language.Tag{language.English, language.Amharic})

// MatchAcceptLanguage はAccept-Languageヘッダーから最適なロケールを選ぶ。
// 一致しない場合や解析できない場合はenを返す。
func MatchAcceptLanguage(header string) string {
	if header == "" {
		return LocaleEnglish
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return LocaleEnglish
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return LocaleEnglish
	}
	return SiteLocales[index]
}

// Text はエラーメッセージと対処方法の組。
type Text struct {
	Message string
	Action  string
}

var messages = map[string]map[string]Text{
	LocaleEnglish: {
		model.ErrCodeValidation:         {"Missing required fields", "Check the highlighted fields and submit again."},
		model.ErrCodeConflict:           {"User already exists", "Choose a different email address or username, or log in instead."},
		model.ErrCodeInvalidCredentials: {"Invalid credentials", "Check your email or username and password."},
		model.ErrCodeUpstreamAuth:       {"Failed to verify the sign-in with the identity provider", "Sign in with the provider again."},
		model.ErrCodeUnauthorized:       {"Authentication required", "Log in and try again."},
		model.ErrCodeUserNotFound:       {"User not found", "Log in again."},
		model.ErrCodeRateLimited:        {"Too many requests", "Wait a moment and try again."},
		model.ErrCodeInternal:           {"Internal error", "Wait a moment and try again."},
	},
	LocaleAmharic: {
		model.ErrCodeValidation:         {"አስፈላጊ መረጃዎች ጎድለዋል", "የተመለከቱትን መስኮች አረጋግጠው እንደገና ያስገቡ።"},
		model.ErrCodeConflict:           {"ተጠቃሚው አስቀድሞ አለ", "ሌላ ኢሜይል ወይም የተጠቃሚ ስም ይምረጡ ወይም ይግቡ።"},
		model.ErrCodeInvalidCredentials: {"የመግቢያ መረጃው ትክክል አይደለም", "ኢሜይልዎን ወይም የተጠቃሚ ስምዎን እና የይለፍ ቃልዎን ያረጋግጡ።"},
		model.ErrCodeUpstreamAuth:       {"በመለያ አቅራቢው መግባትን ማረጋገጥ አልተቻለም", "እንደገና በአቅራቢው ይግቡ።"},
		model.ErrCodeUnauthorized:       {"መግባት ያስፈልጋል", "ይግቡና እንደገና ይሞክሩ።"},
		model.ErrCodeUserNotFound:       {"ተጠቃሚው አልተገኘም", "እንደገና ይግቡ።"},
		model.ErrCodeRateLimited:        {"በጣም ብዙ ጥያቄዎች", "ትንሽ ቆይተው እንደገና ይሞክሩ።"},
		model.ErrCodeInternal:           {"የውስጥ ስህተት", "ትንሽ ቆይተው እንደገና ይሞክሩ።"},
	},
}

// Message はロケールとエラーコードに対応する文言を返す。
// 該当する翻訳がない場合は英語、英語にもない場合はfalseを返す。
func Message(loc, code string) (Text, bool) {
	if t, ok := messages[ResolveLocale(loc)][code]; ok {
		return t, true
	}
	t, ok := messages[LocaleEnglish][code]
	return t, ok
}

// Localize はAPIErrorの文言をロケールに合わせて置き換えたコピーを返す。
func Localize(err *model.APIError, loc string) *model.APIError {
	localized := *err
	if t, ok := Message(loc, err.Code); ok {
		localized.Message = t.Message
		localized.Action = t.Action
	}
	return &localized
}
