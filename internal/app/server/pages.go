package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/charmbracelet/log"

	"keyportal/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

func renderPage(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		log.Error("Failed to render page", "template", name, "error", err)
	}
}

func indexPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "index.html", config.GetConfig().ServiceInfo)
}

func registerPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "register.html", nil)
}

func myKeysPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "my_keys.html", nil)
}

func adminUsersPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "admin_users.html", nil)
}

func loginPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "login.html", nil)
}

func statusPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, "status.html", nil)
}

type callbackResultData struct {
	Success bool
	Account string
	Error   string
}

func renderCallbackResult(w http.ResponseWriter, data callbackResultData) {
	renderPage(w, "callback_result.html", data)
}
