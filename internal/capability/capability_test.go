package capability

import "testing"

func TestParseNormalizesIMAP4rev1(t *testing.T) {
	s := Parse([]string{"IMAP4", "IDLE"})
	if !s.Has("imap4rev1") {
		t.Error("IMAP4 should normalize to IMAP4rev1")
	}
}

func TestParseAuthMechanisms(t *testing.T) {
	s := Parse([]string{"IMAP4rev1", "AUTH=PLAIN", "AUTH=OAUTHBEARER", "LOGINDISABLED"})
	mechs := s.AuthMechanisms()
	if len(mechs) != 2 {
		t.Fatalf("AuthMechanisms() = %v", mechs)
	}
	if !s.LoginDisabled() {
		t.Error("LoginDisabled() = false, want true")
	}
}

func TestParseAppendLimit(t *testing.T) {
	s := Parse([]string{"IMAP4rev1", "APPENDLIMIT=35651584"})
	limit, ok := s.AppendLimit()
	if !ok || limit != 35651584 {
		t.Errorf("AppendLimit() = %d, %v", limit, ok)
	}
}

func TestParseNoAppendLimit(t *testing.T) {
	s := Parse([]string{"IMAP4rev1"})
	if _, ok := s.AppendLimit(); ok {
		t.Error("AppendLimit() should be absent")
	}
}

func TestFeatureAccessors(t *testing.T) {
	s := Parse([]string{
		"IMAP4rev1", "IDLE", "LITERAL+", "CONDSTORE", "QRESYNC", "ENABLE",
		"MOVE", "UIDPLUS", "BINARY", "COMPRESS=DEFLATE", "NAMESPACE", "ID",
		"QUOTA", "SASL-IR", "STATUS=SIZE", "LIST-EXTENDED", "SPECIAL-USE",
		"OBJECTID", "UTF8=ACCEPT", "X-GM-EXT-1",
	})
	checks := []struct {
		name string
		got  bool
	}{
		{"IdleSupported", s.IdleSupported()},
		{"LiteralPlus", s.LiteralPlus()},
		{"CondStore", s.CondStore()},
		{"QResync", s.QResync()},
		{"Enable", s.Enable()},
		{"Move", s.Move()},
		{"UIDPlus", s.UIDPlus()},
		{"Binary", s.Binary()},
		{"Compress", s.Compress()},
		{"Namespace", s.Namespace()},
		{"ID", s.ID()},
		{"Quota", s.Quota()},
		{"SASLIR", s.SASLIR()},
		{"StatusSize", s.StatusSize()},
		{"ListExtended", s.ListExtended()},
		{"SpecialUse", s.SpecialUse()},
		{"ObjectID", s.ObjectID()},
		{"UTF8Accept", s.UTF8Accept()},
		{"XGmailExt1", s.XGmailExt1()},
	}
	for _, c := range checks {
		if !c.got {
			t.Errorf("%s() = false, want true", c.name)
		}
	}
}

func TestLiteralMinusDistinctFromPlus(t *testing.T) {
	s := Parse([]string{"IMAP4rev1", "LITERAL-"})
	if s.LiteralPlus() {
		t.Error("LiteralPlus() should be false")
	}
	if !s.LiteralMinus() {
		t.Error("LiteralMinus() should be true")
	}
}

func TestNilSetIsSafe(t *testing.T) {
	var s *Set
	if s.Has("IDLE") || s.IdleSupported() {
		t.Error("nil Set should report no capabilities")
	}
	if _, ok := s.AppendLimit(); ok {
		t.Error("nil Set should have no append limit")
	}
	if s.AuthMechanisms() != nil {
		t.Error("nil Set should have no auth mechanisms")
	}
}
