package tlsprofile

import "testing"

func TestSelector_Config_ValidateCertificatesToggle(t *testing.T) {
	s := NewSelector(nil)

	cfg, err := s.Config("example.com:443", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify=false when validate_certificates=true")
	}

	cfg2, err := s.Config("example.com:443", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg2.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify=true when validate_certificates=false")
	}
}

func TestSelector_Config_DefaultPort(t *testing.T) {
	s := NewSelector([]ClientCertificateConfig{
		{Host: "example.com", Port: 0, CrtFile: "testdata/does-not-exist.crt", KeyFile: "testdata/does-not-exist.key"},
	})
	// The configured cert has no port (Port 0), so it should resolve to the
	// default port 443, match example.com:443 and attempt to load the
	// (missing) cert, surfacing a load error rather than silently skipping
	// the match.
	_, err := s.Config("example.com:443", true)
	if err == nil {
		t.Fatal("expected an error loading a nonexistent certificate file")
	}
}

func TestSelector_Config_ALPN(t *testing.T) {
	s := NewSelector(nil)
	cfg, err := s.Config("example.com:443", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" || cfg.NextProtos[1] != "http/1.1" {
		t.Errorf("got NextProtos %v, want [h2 http/1.1]", cfg.NextProtos)
	}
}
