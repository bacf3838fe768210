package builtin

import "testing"

func TestMd5HashMatchesKnownDigests(t *testing.T) {
	out, err := md5Hash("PROD", "ds", []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int64]string{
		1: "c4ca4238a0b923820dcc509a6f75849b",
		2: "c81e728d9d4c2f636f067f89cc14862c",
		3: "eccbc87e4b5ce2fe28308fd9f2a7baf3",
		4: "a87ff679a2f3e71d9181a67b7542122c",
	}
	for id, expected := range want {
		if out[id].String() != expected {
			t.Fatalf("id %d: expected %s, got %s", id, expected, out[id].String())
		}
	}
}
