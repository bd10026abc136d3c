// Package statetest holds the behaviour every domain.StateStore must share.
package statetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"isaac/pkg/domain"
)

// SampleState returns a small but complete datastore: metadata nids, two
// committed stamps with an alias, a path, a concept with a description and
// one commit record.
func SampleState() domain.DatastoreState {
	concept := domain.MetadataUUID("contract concept")
	desc := domain.MetadataUUID("contract description")
	text, _ := json.Marshal(domain.DescriptionData{Text: "Heart structure", LanguageNid: -2147483643})
	return domain.DatastoreState{
		Identifiers: domain.IdentifierState{
			NextNid: -2147483644,
			Nids: []domain.NidState{
				{Nid: -2147483647, UUIDs: []uuid.UUID{concept}, AssemblageNid: -2147483645},
				{Nid: -2147483646, UUIDs: []uuid.UUID{desc}, AssemblageNid: -2147483644},
			},
			Assemblages: []domain.AssemblageState{
				{AssemblageNid: -2147483644, ObjectType: domain.ObjectSemantic, VersionType: domain.VersionDescription},
			},
		},
		Stamps: domain.StampState{
			Stamps: []domain.Stamp{
				{Status: domain.StatusActive, Time: 1_700_000_000_000, AuthorNid: -1, ModuleNid: -2, PathNid: -3},
				{Status: domain.StatusActive, Time: 1_700_000_000_000, AuthorNid: -1, ModuleNid: -2, PathNid: -4},
			},
			Aliases: []domain.StampAlias{{Alias: 2, Target: 1}},
		},
		Paths: []domain.PathState{
			{PathNid: -3, Origins: []domain.StampPosition{{PathNid: -4, Time: 1_600_000_000_000}}},
		},
		Chronologies: []domain.ChronologyState{
			{
				Nid: -2147483647, PrimordialUUID: concept, ObjectType: domain.ObjectConcept,
				VersionType: domain.VersionConcept, AssemblageNid: -2147483645,
				Versions: []domain.VersionState{{StampSequence: 1, Data: json.RawMessage(`{}`)}},
			},
			{
				Nid: -2147483646, PrimordialUUID: desc, ObjectType: domain.ObjectSemantic,
				VersionType: domain.VersionDescription, AssemblageNid: -2147483644,
				ReferencedComponentNid: -2147483647,
				Versions:               []domain.VersionState{{StampSequence: 1, Data: text}},
			},
		},
		Commits: []domain.CommitRecord{
			domain.NewCommitRecord(1_700_000_000_000, []int32{1}, map[int32]int32{2: 1}, []int32{-2147483647}, []int32{-2147483646}, "contract"),
		},
		ProcessedChangeSets: []string{"1700000000000-1.ibdf"},
	}
}

func requireSameState(t *testing.T, want, got domain.DatastoreState) {
	t.Helper()
	wantBuckets, err := want.Buckets()
	require.NoError(t, err)
	gotBuckets, err := got.Buckets()
	require.NoError(t, err)
	for name, payload := range wantBuckets {
		require.JSONEq(t, string(payload), string(gotBuckets[name]), "bucket %s", name)
	}
}

// Run exercises a freshly created, empty store. reopen, when non-nil,
// closes the store and opens a new handle on the same backing data.
func Run(t *testing.T, store domain.StateStore, reopen func(domain.StateStore) domain.StateStore) {
	t.Helper()
	ctx := context.Background()

	_, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, found, "empty store must report nothing saved")

	state := SampleState()
	require.NoError(t, store.Save(ctx, state))
	got, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	requireSameState(t, state, got)

	state.ProcessedChangeSets = append(state.ProcessedChangeSets, "1700000000001-1.ibdf")
	state.Stamps.Stamps = append(state.Stamps.Stamps, domain.Stamp{Status: domain.StatusInactive, Time: 1_700_000_000_001, AuthorNid: -1, ModuleNid: -2, PathNid: -3})
	require.NoError(t, store.Save(ctx, state))

	if reopen != nil {
		store = reopen(store)
	}
	got, found, err = store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	requireSameState(t, state, got)
	require.NoError(t, store.Close())
}
