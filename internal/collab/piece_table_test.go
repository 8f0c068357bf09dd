package collab

import "testing"

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")

	// 在 "Hello" 后插入
	pt.Insert(5, " collaborative")

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_InsertAtEnds(t *testing.T) {
	pt := NewPieceTable("bc")
	pt.Insert(0, "a")
	pt.Insert(3, "d")
	if got := pt.String(); got != "abcd" {
		t.Fatalf("String() = %q, want %q", got, "abcd")
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	// 保留 "Hello"，删掉 " collaborative"
	pt.Delete(5, 14)

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("Hello world")
	pt.Insert(5, " brave")
	// "Hello brave world" -> 删 " brave w"（跨 add 和 original 两个 piece）
	pt.Delete(5, 8)
	if got := pt.String(); got != "Helloorld" {
		t.Fatalf("String() = %q, want %q", got, "Helloorld")
	}
}

func TestPieceTable_UnicodeRunes(t *testing.T) {
	pt := NewPieceTable("héllo")
	pt.Insert(1, "ê")
	if got := pt.String(); got != "hêéllo" {
		t.Fatalf("String() = %q, want %q", got, "hêéllo")
	}
	pt.Delete(0, 2)
	if got := pt.String(); got != "éllo" {
		t.Fatalf("String() = %q, want %q", got, "éllo")
	}
}
