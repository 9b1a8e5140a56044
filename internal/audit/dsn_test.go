package audit

import (
	"strings"
	"testing"
)

func TestSanitizeDSN(t *testing.T) {
	tests := []string{
		"postgres://u:secret@db:5432/audit",
		"host=db user=u password=secret dbname=audit",
	}
	for _, dsn := range tests {
		got := sanitizeDSN(dsn)
		if strings.Contains(got, "secret") {
			t.Errorf("sanitizeDSN(%q) leaked the password: %q", dsn, got)
		}
		if !strings.Contains(got, "REDACTED") {
			t.Errorf("sanitizeDSN(%q) = %q, expected a redaction marker", dsn, got)
		}
	}

	if got := sanitizeDSN("postgres://db/audit"); got != "postgres://db/audit" {
		t.Errorf("DSN without password changed: %q", got)
	}
}
