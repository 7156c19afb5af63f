package refs

import "testing"

func TestWriterTipRoundTrip(t *testing.T) {
	ref, err := WriterTip("myrepo", "alice")
	if err != nil {
		t.Fatalf("WriterTip: %v", err)
	}
	if ref != "refs/warp/myrepo/writers/alice" {
		t.Fatalf("unexpected ref: %s", ref)
	}

	graph, writer, err := ParseWriterTip(ref)
	if err != nil {
		t.Fatalf("ParseWriterTip: %v", err)
	}
	if graph != "myrepo" || writer != "alice" {
		t.Fatalf("round trip mismatch: graph=%s writer=%s", graph, writer)
	}
}

func TestValidateGraphRejectsTraversal(t *testing.T) {
	cases := []string{"", "a..b", "a;b", "a b", "a\x00b", "a/b"}
	for _, c := range cases {
		if err := ValidateGraph(c); err == nil {
			t.Errorf("expected ValidateGraph(%q) to fail", c)
		}
	}
}

func TestValidateWriterRejectsBadChars(t *testing.T) {
	cases := []string{"", "has space", "semi;colon", "slash/here"}
	for _, c := range cases {
		if err := ValidateWriter(c); err == nil {
			t.Errorf("expected ValidateWriter(%q) to fail", c)
		}
	}
}

func TestParseWriterTipRejectsTraversal(t *testing.T) {
	if _, _, err := ParseWriterTip("refs/warp/../etc/writers/x"); err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestAllRefBuildersValidateGraph(t *testing.T) {
	builders := []func(string) (string, error){
		CheckpointHead, CoverageHead, CursorActive, SeekCache, GraphPrefix, WritersPrefix,
	}
	for _, b := range builders {
		if _, err := b("bad;graph"); err == nil {
			t.Error("expected ref builder to reject an invalid graph name")
		}
	}
}
