package impair

import "testing"

func TestDefaultIsNoop(t *testing.T) {
	im := Default()
	if im.ShouldOmit("SA") || im.ShouldEmitEmpty("KE") || im.ShouldDuplicate("Ni") {
		t.Fatal("Default() must not impair anything")
	}
	if im.InjectArbitraryByte || im.SkipHashNotify || im.SuppressRetransmit ||
		im.CorruptEncrypted || im.AddUnknownCriticalPayload || im.BypassIntegrity {
		t.Fatal("Default() must leave every bool switch off")
	}
}

func TestOmitPayloadIsPerKind(t *testing.T) {
	im := Default()
	im.OmitPayload["KE"] = true
	if !im.ShouldOmit("KE") {
		t.Fatal("expected KE to be omitted")
	}
	if im.ShouldOmit("Ni") {
		t.Fatal("only KE should be omitted")
	}
}
