package domain

import "testing"

func TestLeafDetection(t *testing.T) {
	leaf := &TaskCtx{}
	if !leaf.IsLeaf() {
		t.Fatal("expected empty TaskCtx to be a leaf")
	}
	withProgram := &TaskCtx{Program: &ProgramRef{ContentHash: "abc"}}
	if withProgram.IsLeaf() {
		t.Fatal("expected TaskCtx with a program to not be a leaf")
	}
	withChild := &TaskCtx{Children: map[string]*TaskCtx{"a": leaf}}
	if withChild.IsLeaf() {
		t.Fatal("expected TaskCtx with children to not be a leaf")
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	a := &TaskCtx{}
	b := &TaskCtx{Children: map[string]*TaskCtx{"a": a}}
	a.Children = map[string]*TaskCtx{"b": b}

	if err := a.Validate(); err == nil {
		t.Fatal("expected cycle to be detected")
	}
}

func TestValidateAcceptsDiamond(t *testing.T) {
	shared := &TaskCtx{}
	root := &TaskCtx{
		Reserved: map[string]*TaskCtx{"x": shared},
		Children: map[string]*TaskCtx{"y": shared},
	}
	if err := root.Validate(); err != nil {
		t.Fatalf("diamond-shaped (non-cyclic) sharing should validate: %v", err)
	}
}

func TestTaskPollTerminal(t *testing.T) {
	if Pending().IsTerminal() {
		t.Fatal("pending should not be terminal")
	}
	if !Ready(ObjectData("x")).IsTerminal() {
		t.Fatal("ready should be terminal")
	}
	if !Trap("boom").IsTerminal() {
		t.Fatal("trap should be terminal")
	}
}
