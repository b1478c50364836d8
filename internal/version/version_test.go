package version

import (
	"strings"
	"testing"
)

func TestGet_Defaults(t *testing.T) {
	t.Parallel()
	info := Get()
	if info.Version != "dev" || info.Commit != "unknown" {
		t.Errorf("unexpected defaults: %+v", info)
	}
	if !strings.HasPrefix(info.String(), "lexrag dev (commit unknown") {
		t.Errorf("unexpected summary: %q", info.String())
	}
}
