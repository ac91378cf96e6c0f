package security

import "testing"

// TestSanitizeField_StripsMarkup はHTMLタグが全て除去されることを検証する。
func TestSanitizeField_StripsMarkup(t *testing.T) {
	sanitizer := NewInputSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "プレーンテキストはそのまま通過する",
			input: "alice",
			want:  "alice",
		},
		{
			name:  "日本語のプレーンテキストもそのまま通過する",
			input: "山田 太郎",
			want:  "山田 太郎",
		},
		{
			name:  "scriptタグが除去される",
			input: `<script>alert("x")</script>alice`,
			want:  "alice",
		},
		{
			name:  "imgタグのonerror属性ごと除去される",
			input: `bob<img src=x onerror=alert(1)>`,
			want:  "bob",
		},
		{
			name:  "装飾タグも残らない",
			input: "<strong>carol</strong>",
			want:  "carol",
		},
		{
			name:  "前後の空白はトリムされる",
			input: "  dave  ",
			want:  "dave",
		},
		{
			name:  "空文字列は空文字列のまま",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeField(tt.input); got != tt.want {
				t.Errorf("SanitizeField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeField_Idempotent は同一入力に対して冪等であることを検証する。
func TestSanitizeField_Idempotent(t *testing.T) {
	sanitizer := NewInputSanitizer()

	input := `<b>eve</b> <script>x</script>`
	once := sanitizer.SanitizeField(input)
	twice := sanitizer.SanitizeField(once)
	if once != twice {
		t.Errorf("SanitizeField is not idempotent: first %q, second %q", once, twice)
	}
}
