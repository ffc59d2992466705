package moodle

import "testing"

func TestLangOrFirst(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		preferred string
		want      string
	}{
		{"no markup", "Analisi Matematica", "it", "Analisi Matematica"},
		{"preferred variant", "{mlang it}Analisi{mlang}{mlang en}Calculus{mlang}", "it", "Analisi"},
		{"other preferred variant", "{mlang it}Analisi{mlang}{mlang en}Calculus{mlang}", "en", "Calculus"},
		{"missing preferred falls back to first", "{mlang de}Analysis{mlang}{mlang en}Calculus{mlang}", "it", "Analysis"},
		{"single variant", "{mlang en}Calculus{mlang}", "it", "Calculus"},
		{"empty string", "", "it", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := LangOrFirst(tt.in, tt.preferred); got != tt.want {
				t.Errorf("LangOrFirst(%q, %q) = %q, want %q", tt.in, tt.preferred, got, tt.want)
			}
		})
	}
}
