package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banyanlabs/banyan/types"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Create("/work", dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestAppendAdvancesLeaf(t *testing.T) {
	s, _ := newTestSession(t)

	id1, err := s.AppendMessage(types.NewUserText("hello"))
	require.NoError(t, err)
	assert.Equal(t, id1, s.LeafID())

	id2, err := s.AppendMessage(&types.Message{Role: types.RoleAssistant,
		Content: []types.ContentBlock{{Type: types.ContentTypeText, Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, id2, s.LeafID())

	branch := s.Branch()
	require.Len(t, branch, 2)
	assert.Equal(t, id1, branch[0].ID)
	assert.Equal(t, id2, branch[1].ID)
	require.NotNil(t, branch[1].ParentID)
	assert.Equal(t, id1, *branch[1].ParentID)
	assert.Nil(t, branch[0].ParentID)
}

func TestReplayReproducesState(t *testing.T) {
	s, _ := newTestSession(t)

	u1, _ := s.AppendMessage(types.NewUserText("one"))
	a1, _ := s.AppendMessage(&types.Message{Role: types.RoleAssistant})
	u2, _ := s.AppendMessage(types.NewUserText("two"))
	_, err := s.SetLabel(u1, "checkpoint")
	require.NoError(t, err)
	_, err = s.Rename("my session")
	require.NoError(t, err)
	path := s.Path()
	wantLeaf := s.LeafID()
	wantBranch := s.Branch()
	require.NoError(t, s.Close())

	re, err := Open(path)
	require.NoError(t, err)
	defer re.Close()

	assert.Equal(t, s.ID(), re.ID())
	assert.Equal(t, "/work", re.Cwd())
	assert.Equal(t, wantLeaf, re.LeafID())
	assert.Equal(t, "my session", re.Name())

	gotBranch := re.Branch()
	require.Len(t, gotBranch, len(wantBranch))
	for i := range wantBranch {
		assert.Equal(t, wantBranch[i].ID, gotBranch[i].ID)
		assert.Equal(t, wantBranch[i].Type, gotBranch[i].Type)
	}

	label, ok := re.LabelOf(u1)
	require.True(t, ok)
	assert.Equal(t, "checkpoint", label)

	_ = a1
	_ = u2
}

func TestTornTrailingRecordTruncated(t *testing.T) {
	s, _ := newTestSession(t)
	id1, _ := s.AppendMessage(types.NewUserText("intact"))
	path := s.Path()
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"message","id":"torn","paren`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	re, err := Open(path)
	require.NoError(t, err)
	defer re.Close()

	assert.Equal(t, id1, re.LeafID())
	assert.Equal(t, 1, re.Len())

	// The torn bytes must be gone so future appends produce a valid file.
	id2, err := re.AppendMessage(types.NewUserText("after repair"))
	require.NoError(t, err)
	require.NoError(t, re.Close())

	re2, err := Open(path)
	require.NoError(t, err)
	defer re2.Close()
	assert.Equal(t, id2, re2.LeafID())
}

func TestMalformedMidFileRecordFailsOpen(t *testing.T) {
	s, _ := newTestSession(t)
	s.AppendMessage(types.NewUserText("ok"))
	path := s.Path()
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n" + `{"type":"session_info","id":"x","parentId":null,"sessionInfo":{"name":"n"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.Error(t, err)
}

func TestMissingHeaderUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"message","id":"a","parentId":null}`+"\n"), 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrCorruptSession)
}

func TestUnknownRecordTypeSkipped(t *testing.T) {
	s, _ := newTestSession(t)
	id1, _ := s.AppendMessage(types.NewUserText("hello"))
	path := s.Path()
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"hologram","id":"future","parentId":null,"shape":"cube"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	re, err := Open(path)
	require.NoError(t, err)
	defer re.Close()
	assert.Equal(t, id1, re.LeafID())
	assert.Equal(t, 1, re.Len())
}

func TestSetLeafBranches(t *testing.T) {
	s, _ := newTestSession(t)

	u1, _ := s.AppendMessage(types.NewUserText("U1"))
	a1, _ := s.AppendMessage(&types.Message{Role: types.RoleAssistant})
	u2, _ := s.AppendMessage(types.NewUserText("U2"))
	a2, _ := s.AppendMessage(&types.Message{Role: types.RoleAssistant})

	// Navigate back to A1 and diverge.
	require.NoError(t, s.SetLeaf(a1))
	u2b, err := s.AppendMessage(types.NewUserText("U2 edited"))
	require.NoError(t, err)

	branch := s.Branch()
	require.Len(t, branch, 3)
	assert.Equal(t, []string{u1, a1, u2b}, []string{branch[0].ID, branch[1].ID, branch[2].ID})

	// The original branch is still reachable through the tree.
	tree := s.Tree()
	require.Len(t, tree, 1)
	a1Node := tree[0].Children[0]
	require.Equal(t, a1, a1Node.Entry.ID)
	require.Len(t, a1Node.Children, 2)
	got := []string{a1Node.Children[0].Entry.ID, a1Node.Children[1].Entry.ID}
	assert.Contains(t, got, u2)
	assert.Contains(t, got, u2b)

	_ = a2
}

func TestSetLeafUnknownEntry(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.SetLeaf("nope")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestForkFromReplaysPrefix(t *testing.T) {
	s, dir := newTestSession(t)

	u1, _ := s.AppendMessage(types.NewUserText("U1"))
	a1, _ := s.AppendMessage(&types.Message{Role: types.RoleAssistant})
	s.AppendMessage(types.NewUserText("U2"))

	child, err := s.ForkFrom(a1, dir)
	require.NoError(t, err)
	defer child.Close()

	assert.Equal(t, s.Path(), child.ParentSessionPath())
	assert.NotEqual(t, s.ID(), child.ID())

	branch := child.Branch()
	require.Len(t, branch, 2)
	assert.Equal(t, u1, branch[0].ID)
	assert.Equal(t, a1, branch[1].ID)

	// The fork is persisted and replayable on its own.
	path := child.Path()
	require.NoError(t, child.Close())
	re, err := Open(path)
	require.NoError(t, err)
	defer re.Close()
	assert.Equal(t, a1, re.LeafID())
}

func TestInMemoryFollowsInvariants(t *testing.T) {
	s := InMemory("/work")
	defer s.Close()

	id1, err := s.AppendMessage(types.NewUserText("hello"))
	require.NoError(t, err)
	assert.Equal(t, id1, s.LeafID())
	assert.Empty(t, s.Path())

	_, err = s.ForkFrom(id1, t.TempDir())
	require.ErrorIs(t, err, ErrNotPersisted)
}

func TestClearLabel(t *testing.T) {
	s, _ := newTestSession(t)
	id, _ := s.AppendMessage(types.NewUserText("x"))

	_, err := s.SetLabel(id, "keep")
	require.NoError(t, err)
	_, ok := s.LabelOf(id)
	require.True(t, ok)

	_, err = s.SetLabel(id, "")
	require.NoError(t, err)
	_, ok = s.LabelOf(id)
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	s1, err := Create("/projects/a", dir)
	require.NoError(t, err)
	s1.AppendMessage(types.NewUserText("first question about parsers"))
	s1.AppendMessage(&types.Message{Role: types.RoleAssistant,
		Content: []types.ContentBlock{{Type: types.ContentTypeText, Text: "answer"}}})
	require.NoError(t, s1.Close())

	s2, err := Create("/projects/b", dir)
	require.NoError(t, err)
	s2.AppendMessage(types.NewUserText("unrelated"))
	require.NoError(t, s2.Close())

	all, err := List(dir, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	onlyA, err := List(dir, ListOptions{Cwd: "/projects/a"})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, s1.ID(), onlyA[0].SessionID)
	assert.Equal(t, 2, onlyA[0].MessageCount)
	assert.Equal(t, "first question about parsers", onlyA[0].FirstUserMessage)
	assert.Empty(t, onlyA[0].SearchText)

	withSearch, err := List(dir, ListOptions{Cwd: "/projects/a", IncludeSearchText: true})
	require.NoError(t, err)
	require.Len(t, withSearch, 1)
	assert.Contains(t, withSearch[0].SearchText, "parsers")
	assert.Contains(t, withSearch[0].SearchText, "answer")
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Create("/w", dir)
	require.NoError(t, err)
	path := s.Path()
	require.NoError(t, s.Close())

	require.NoError(t, Delete(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
