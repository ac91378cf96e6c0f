package view

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hitoshi/ident/internal/model"
)

func TestRender_AllPages(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("NewTemplateRenderer returned error: %v", err)
	}

	pages := []string{
		PageSignIn,
		PageSignUp,
		PageResetPasswordRequest,
		PageResetPassword,
		PageChangePassword,
		PageError,
		PageInfo,
	}

	for _, page := range pages {
		t.Run(page, func(t *testing.T) {
			var buf bytes.Buffer
			err := renderer.Render(&buf, page, Data{
				AppName:   "ident",
				CSRFToken: "csrf-token",
				Token:     "reset-token",
				Form:      map[string]string{},
			})
			if err != nil {
				t.Fatalf("Render(%s) returned error: %v", page, err)
			}
			if buf.Len() == 0 {
				t.Fatalf("Render(%s) produced empty output", page)
			}
		})
	}
}

func TestRender_SignInEmbedsCSRFToken(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("NewTemplateRenderer returned error: %v", err)
	}

	var buf bytes.Buffer
	err = renderer.Render(&buf, PageSignIn, Data{
		AppName:   "ident",
		CSRFToken: "csrf-token-value",
		Form:      map[string]string{"userNameOrEmail": "alice"},
		Providers: []string{"google"},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, `name="_csrf" value="csrf-token-value"`) {
		t.Error("expected CSRF hidden field")
	}
	if !strings.Contains(html, `value="alice"`) {
		t.Error("expected identifier to be refilled")
	}
	if !strings.Contains(html, "/auth/external/google") {
		t.Error("expected provider link")
	}
}

func TestRender_ErrorPageShowsMessageAndAction(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("NewTemplateRenderer returned error: %v", err)
	}

	var buf bytes.Buffer
	err = renderer.Render(&buf, PageError, Data{
		AppName: "ident",
		Error:   model.NewInvalidTokenError(),
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	html := buf.String()
	apiErr := model.NewInvalidTokenError()
	if !strings.Contains(html, apiErr.Message) {
		t.Error("expected error message in output")
	}
	if !strings.Contains(html, apiErr.Action) {
		t.Error("expected error action in output")
	}
}

func TestRender_EscapesUserInput(t *testing.T) {
	renderer, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("NewTemplateRenderer returned error: %v", err)
	}

	var buf bytes.Buffer
	err = renderer.Render(&buf, PageSignIn, Data{
		AppName:   "ident",
		CSRFToken: "t",
		Form:      map[string]string{"userNameOrEmail": `"><script>alert(1)</script>`},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Error("expected form value to be HTML-escaped")
	}
}
