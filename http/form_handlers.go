package http

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"cyclescreen/assessment"
	"cyclescreen/ml"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type formField struct {
	Name  string
	Input string
	Kind  ml.Kind
	Min   string
	Max   string
	Value string
	Error string
}

type formSection struct {
	Key    string
	Name   string
	Fields []formField
	Errors []string
}

type formPage struct {
	Lang     string
	Sections []formSection
	Errors   []ml.FieldError
}

type resultPage struct {
	Lang       string
	Assessment *assessment.Assessment
}

// RegisterFormHandlers 注册问卷页面
func RegisterFormHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", handleForm)
	mux.HandleFunc("POST /assess", handleFormSubmit)
}

func handleForm(w http.ResponseWriter, r *http.Request) {
	if registry == nil {
		http.Error(w, "artifacts not loaded", http.StatusServiceUnavailable)
		return
	}
	lang := assessment.MatchLanguage(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
	page := buildFormPage(lang.String(), nil, nil)
	renderPage(w, http.StatusOK, "form", page)
}

func handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	if registry == nil || assessor == nil {
		http.Error(w, "assessment service not initialized", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	lang := assessment.MatchLanguage(r.PostForm.Get("lang"), r.Header.Get("Accept-Language"))
	req := assessment.Request{
		Answers:  make(map[string]map[string]float64),
		Language: lang.String(),
	}
	bundles, _ := registry.Snapshot()
	for _, b := range bundles {
		req.Answers[b.Key] = b.Schema.ParseForm(r.PostForm, b.Key)
	}

	a, err := assessor.Assess(r.Context(), req)
	if err != nil {
		var verr *ml.ValidationError
		if errors.As(err, &verr) {
			page := buildFormPage(lang.String(), r.PostForm, verr.Errors)
			renderPage(w, http.StatusUnprocessableEntity, "form", page)
			return
		}
		logger.Error("form assessment failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		http.Error(w, "assessment failed", http.StatusInternalServerError)
		return
	}

	renderPage(w, http.StatusOK, "result", resultPage{Lang: a.Language, Assessment: a})
}

// buildFormPage 按当前模型的特征生成问卷，并回填已提交的答案
func buildFormPage(lang string, values map[string][]string, fieldErrs []ml.FieldError) formPage {
	page := formPage{Lang: lang, Errors: fieldErrs}
	byField := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		byField[fe.Condition+"."+fe.Field] = fe.Message
	}

	bundles, _ := registry.Snapshot()
	for _, b := range bundles {
		section := formSection{Key: b.Key, Name: b.Name}
		for _, f := range b.Schema.Fields {
			input := b.Key + "." + f.Name
			field := formField{
				Name:  f.Name,
				Input: input,
				Kind:  f.Kind,
				Error: byField[input],
			}
			if v := values[input]; len(v) > 0 {
				field.Value = v[0]
			}
			if f.Range != nil {
				field.Min = strconv.FormatFloat(f.Range.Min, 'f', -1, 64)
				field.Max = strconv.FormatFloat(f.Range.Max, 'f', -1, 64)
			} else if f.Kind == ml.KindCount {
				field.Min = "0"
			}
			section.Fields = append(section.Fields, field)
		}
		for _, fe := range fieldErrs {
			if fe.Condition == b.Key && fe.Field == "" {
				section.Errors = append(section.Errors, fe.Message)
			}
		}
		page.Sections = append(page.Sections, section)
	}
	return page
}

func renderPage(w http.ResponseWriter, status int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("failed to render page", zap.String("page", name), zap.Error(err))
	}
}
