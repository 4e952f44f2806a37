// Package testsuite contains adapter tests shared by all database backends.
package testsuite

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aigentx/gateway/server/store/adapter"
	types "github.com/aigentx/gateway/server/store/types"
)

// TestData is the set of records the suite operates on.
type TestData struct {
	Topics []*types.AuthRecord
}

// InitTestData returns fresh records. Topic names are unique per call so repeated runs against
// a persistent database do not collide.
func InitTestData() *TestData {
	suffix := time.Now().UTC().Format("150405.000000")
	now := types.TimeNow()
	return &TestData{
		Topics: []*types.AuthRecord{
			{Topic: "0xnft-alpha-" + suffix, Creator: "alice", Members: []string{}, CreatedAt: now},
			{Topic: "0xnft-beta-" + suffix, Creator: "bob", Members: []string{}, CreatedAt: now},
			{Topic: "0xNFT-Gamma-" + suffix, Creator: "0xabcdef", Members: []string{}, CreatedAt: now},
		},
	}
}

func RunTopicCreate(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()

	for _, rec := range td.Topics {
		if err := adp.TopicCreate(rec); err != nil {
			t.Fatal(err)
		}
	}

	// Second create of the same topic must be rejected.
	err := adp.TopicCreate(&types.AuthRecord{Topic: td.Topics[0].Topic, Creator: "mallory", CreatedAt: types.TimeNow()})
	if !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func RunTopicGet(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()

	got, err := adp.TopicGet(td.Topics[0].Topic)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("Topic not found")
	}
	if got.Topic != td.Topics[0].Topic || got.Creator != td.Topics[0].Creator || len(got.Members) != 0 {
		t.Errorf("Topic mismatch: got %+v want %+v", got, td.Topics[0])
	}

	// Topic names are case-sensitive.
	got, err = adp.TopicGet(td.Topics[2].Topic)
	if err != nil || got == nil {
		t.Fatal("Topic not found", err)
	}

	// Test not found
	got, err = adp.TopicGet("asdfasdfasdf")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("Topic should be nil but got:", got)
	}
}

func RunMemberAdd(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()

	topic := td.Topics[0].Topic
	added, err := adp.MemberAdd(topic, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("Member should have been added")
	}

	// Repeated insert is a no-op.
	added, err = adp.MemberAdd(topic, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("Duplicate member must not be added")
	}

	got, err := adp.TopicGet(topic)
	if err != nil || got == nil {
		t.Fatal("Topic not found", err)
	}
	if len(got.Members) != 1 || got.Members[0] != "bob" {
		t.Errorf("Members mismatch: got %v", got.Members)
	}

	if _, err = adp.MemberAdd("asdfasdfasdf", "bob"); !errors.Is(err, types.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}
}

// RunMemberAddConcurrent checks that parallel inserts neither lose members nor create duplicates.
func RunMemberAddConcurrent(t *testing.T, adp adapter.Adapter, td *TestData) {
	t.Helper()

	topic := td.Topics[1].Topic
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				if _, err := adp.MemberAdd(topic, u); err != nil {
					t.Error(err)
				}
			}(u)
		}
	}
	wg.Wait()

	got, err := adp.TopicGet(topic)
	if err != nil || got == nil {
		t.Fatal("Topic not found", err)
	}
	members := append([]string(nil), got.Members...)
	sort.Strings(members)
	if len(members) != len(users) {
		t.Fatalf("Expected %d members, got %v", len(users), members)
	}
	for i := range users {
		if members[i] != users[i] {
			t.Errorf("Members mismatch: got %v want %v", members, users)
			break
		}
	}
}
