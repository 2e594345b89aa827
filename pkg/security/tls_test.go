package security

import "testing"

func TestPanelTLSConfigDefaultSkipsVerification(t *testing.T) {
	cfg := PanelTLSConfig(false)
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true when verify=false")
	}
}

func TestPanelTLSConfigVerifyEnabled(t *testing.T) {
	cfg := PanelTLSConfig(true)
	if cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = true, want false when verify=true")
	}
}
