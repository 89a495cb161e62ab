package dbgpshare

import (
	"strings"
	"testing"
)

func TestParseInitPacket(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?><init appid="1" idekey="mykey" session="1" thread="1" parent="" language="PHP" protocol_version="1.0" fileuri="file:///tmp/x.php"/>`
	doc, root, err := ParseInitPacket(body)
	if err != nil {
		t.Fatalf("ParseInitPacket: %s", err)
	}
	if doc == nil || root == nil {
		t.Fatalf("expected non-nil doc/root")
	}
	if got := root.SelectAttrValue("idekey", ""); got != "mykey" {
		t.Errorf("idekey = %q, want %q", got, "mykey")
	}
}

func TestParseInitPacketRejectsNonInitRoot(t *testing.T) {
	body := `<?xml version="1.0"?><response command="status"/>`
	if _, _, err := ParseInitPacket(body); err == nil {
		t.Errorf("expected error for a root element other than init")
	}
}

func TestParseInitPacketRejectsMalformedXML(t *testing.T) {
	if _, _, err := ParseInitPacket("not xml at all <<<"); err == nil {
		t.Errorf("expected error for malformed XML")
	}
}

func TestParseInitPacketNamespacedRoot(t *testing.T) {
	body := `<?xml version="1.0"?><dbgp:init xmlns:dbgp="urn:debugger_protocol_v1" idekey="k"/>`
	_, root, err := ParseInitPacket(body)
	if err != nil {
		t.Fatalf("ParseInitPacket: %s", err)
	}
	if got := root.SelectAttrValue("idekey", ""); got != "k" {
		t.Errorf("idekey = %q, want %q", got, "k")
	}
}

func TestSerializeInitPacketMutation(t *testing.T) {
	body := `<?xml version="1.0"?><init idekey="k"/>`
	doc, root, err := ParseInitPacket(body)
	if err != nil {
		t.Fatalf("ParseInitPacket: %s", err)
	}
	root.CreateAttr("proxied", "203.0.113.5")
	root.CreateAttr("hostname", "proxyhost")

	out, err := SerializeInitPacket(doc)
	if err != nil {
		t.Fatalf("SerializeInitPacket: %s", err)
	}
	if !strings.HasPrefix(out, xmlDeclaration) {
		t.Errorf("expected output to begin with the XML declaration, got %q", out)
	}
	if strings.Count(out, "<?xml") != 1 {
		t.Errorf("expected exactly one XML declaration (the input's own must not survive), got %q", out)
	}
	if !strings.Contains(out, `proxied="203.0.113.5"`) {
		t.Errorf("expected proxied attribute in output: %q", out)
	}
	if !strings.Contains(out, `hostname="proxyhost"`) {
		t.Errorf("expected hostname attribute in output: %q", out)
	}

	_, reparsedRoot, err := ParseInitPacket(out)
	if err != nil {
		t.Fatalf("re-parsing serialized output failed: %s", err)
	}
	if got := reparsedRoot.SelectAttrValue("idekey", ""); got != "k" {
		t.Errorf("idekey survived mutation incorrectly: %q", got)
	}
}
