package audit

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/54b3r/edupolicy-go/internal/logging"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.edupolicy/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.edupolicy/config.yaml" {
			t.Errorf("expected '~/.edupolicy/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("ARK_API_KEY", "ark-secret-value")
	t.Setenv("PGVECTOR_DSN", "postgres://user:pw@db/edu")
	t.Setenv("VECTOR_BACKEND", "pgvector")

	var buf bytes.Buffer
	LogCommandStart(logging.NewWithWriter(&buf), "serve", "")

	out := buf.String()
	for _, leak := range []string{"ark-secret-value", "user:pw"} {
		if strings.Contains(out, leak) {
			t.Errorf("audit log leaked %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, "pgvector") {
		t.Errorf("audit log missing VECTOR_BACKEND value: %s", out)
	}
	if !strings.Contains(out, "serve") {
		t.Errorf("audit log missing command name: %s", out)
	}
}
