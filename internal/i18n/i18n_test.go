package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
)

func newBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := New("en")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func withLang(t *testing.T, lang string) context.Context {
	t.Helper()
	return WithLocalizer(context.Background(), newBundle(t).NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := withLang(t, "en")

	if got := T(ctx, "ErrConflict"); got != "This session is being updated by another request. Please retry." {
		t.Errorf("T(ErrConflict) = %q", got)
	}
}

func TestTranslateMalay(t *testing.T) {
	ctx := withLang(t, "ms")

	if got := T(ctx, "ErrNotFound"); got != "Sumber yang diminta tidak dijumpai." {
		t.Errorf("T(ErrNotFound) = %q", got)
	}
}

func TestUnknownLanguageFallsBack(t *testing.T) {
	ctx := withLang(t, "fr")

	if got := T(ctx, "Healthy"); got != "ok" {
		t.Errorf("T(Healthy) = %q, want 'ok'", got)
	}
	if got := T(ctx, "ErrInternal"); got != "Something went wrong on our side." {
		t.Errorf("fallback should be English, got %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := withLang(t, "en")

	if got := Tp(ctx, "QuestionsRemaining", 1); got != "1 question remaining." {
		t.Errorf("Tp(QuestionsRemaining, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsRemaining", 4); got != "4 questions remaining." {
		t.Errorf("Tp(QuestionsRemaining, 4) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := withLang(t, "ms")

	got := Td(ctx, "SessionCompleted", map[string]any{"Score": 85})
	if got != "Penilaian selesai dengan skor 85." {
		t.Errorf("Td(SessionCompleted) = %q", got)
	}
}

func TestMissingKeyAndContext(t *testing.T) {
	ctx := withLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
	if got := T(context.Background(), "ErrConflict"); got != "ErrConflict" {
		t.Errorf("without a localizer T should return the id, got %q", got)
	}
}

func TestMiddlewareNegotiates(t *testing.T) {
	b := newBundle(t)
	var got string
	h := b.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrBadJSON")
	}))

	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"default", "/", "", "The request body is not valid JSON."},
		{"header", "/", "ms-MY,ms;q=0.9,en;q=0.5", "Kandungan permintaan bukan JSON yang sah."},
		{"query wins", "/?lang=en", "ms", "The request body is not valid JSON."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	langs := newBundle(t).Languages()
	sort.Strings(langs)
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "ms" {
		t.Errorf("Languages() = %v", langs)
	}
}
