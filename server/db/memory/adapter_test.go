package memory

import (
	"encoding/json"
	"testing"

	"github.com/aigentx/gateway/server/db/common/testsuite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAdapter(t *testing.T, conf string) *adapter {
	t.Helper()
	a := &adapter{}
	require.NoError(t, a.Open(json.RawMessage(conf)))
	return a
}

func TestAdapterSuite(t *testing.T) {
	a := newOpenAdapter(t, "")
	td := testsuite.InitTestData()

	t.Run("TopicCreate", func(t *testing.T) { testsuite.RunTopicCreate(t, a, td) })
	t.Run("TopicGet", func(t *testing.T) { testsuite.RunTopicGet(t, a, td) })
	t.Run("MemberAdd", func(t *testing.T) { testsuite.RunMemberAdd(t, a, td) })
	t.Run("MemberAddConcurrent", func(t *testing.T) { testsuite.RunMemberAddConcurrent(t, a, td) })
}

func TestOpenPreload(t *testing.T) {
	a := newOpenAdapter(t, `{"topics": [{"name": "T1", "creator": "Alice", "members": ["BOB", "bob", "alice"]}]}`)

	rec, err := a.TopicGet("T1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.Creator)
	assert.Equal(t, []string{"bob"}, rec.Members)

	assert.Error(t, a.Open(nil), "second Open must fail")
}

func TestTopicGetReturnsCopy(t *testing.T) {
	a := newOpenAdapter(t, `{"topics": [{"name": "T1", "creator": "alice"}]}`)

	rec, _ := a.TopicGet("T1")
	rec.Members = append(rec.Members, "mallory")

	again, _ := a.TopicGet("T1")
	assert.False(t, again.IsAuthorized("mallory"))
}

func TestCreateDbReset(t *testing.T) {
	a := newOpenAdapter(t, `{"topics": [{"name": "T1", "creator": "alice"}]}`)

	require.NoError(t, a.CreateDb(false))
	rec, _ := a.TopicGet("T1")
	assert.NotNil(t, rec)

	require.NoError(t, a.CreateDb(true))
	rec, _ = a.TopicGet("T1")
	assert.Nil(t, rec)
}
