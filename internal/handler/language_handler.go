package handler

import (
	"net/http"

	"github.com/hitoshi/lengo/internal/locale"
)

// languagesResponse は言語テーブルのレスポンス。
type languagesResponse struct {
	OK                  bool              `json:"ok"`
	Languages           []locale.Language `json:"languages"`
	DefaultLanguage     string            `json:"default_language"`
	SiteLanguages       []locale.Language `json:"site_languages"`
	DefaultSiteLanguage string            `json:"default_site_language"`
}

// Languages はコース言語とサイト表示言語のテーブルを返す。
// GET /api/languages
func Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{
		OK:                  true,
		Languages:           locale.Languages(),
		DefaultLanguage:     locale.DefaultLanguage().Code,
		SiteLanguages:       locale.SiteLanguages(),
		DefaultSiteLanguage: locale.DefaultSiteLanguage().Code,
	})
}
