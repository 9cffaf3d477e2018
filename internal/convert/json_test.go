package convert

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/event-ledger/internal/model"
)

func TestToPage(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 10, 14, 10, 0, 0, 0, time.FixedZone("x", 3600))
	got := ToPage(model.Page{Slug: "team", Title: "Team", Visibility: model.VisibilityPublic, CreatedAt: created})
	require.Equal(t, "2026-10-14T09:00:00Z", got.CreatedAt)
	require.Equal(t, "", got.UpdatedAt)
	require.Equal(t, []string{}, got.OwnerUIDs)
	require.Nil(t, got.DeleteAfter)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	require.Contains(t, string(b), `"delete_after":null`)
	require.Contains(t, string(b), `"owner_uids":[]`)
}

func TestSaveMemoryRequest_Dates(t *testing.T) {
	t.Parallel()

	var req SaveMemoryRequest
	require.NoError(t, json.Unmarshal([]byte(`{"content":"x","target":"2026-11-03"}`), &req))
	m := req.ToMemory()
	require.Equal(t, civil.Date{Year: 2026, Month: time.November, Day: 3}, *m.Target)
	require.Equal(t, civil.Date{}, m.Expires)

	require.Error(t, json.Unmarshal([]byte(`{"content":"x","expires":"03/11/2026"}`), &req))
}

func TestToMemory_WireShape(t *testing.T) {
	t.Parallel()

	orig := civil.Date{Year: 2027, Month: time.January, Day: 1}
	m := ToMemory(model.Memory{
		ID: "m1", PageID: "team", Content: "x",
		Expires:    civil.Date{Year: 2026, Month: time.November, Day: 13},
		CappedFrom: &orig,
	})
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id":"m1","page_id":"team","content":"x","expires":"2026-11-13",
		"capped":true,"attachments":[],"created_at":"","updated_at":""
	}`, string(b))
}

func TestToBulk(t *testing.T) {
	t.Parallel()

	got := ToBulk(model.BulkResult{Updated: []string{"a", "c"}, Failed: []model.BulkFailure{{ID: "b"}}})
	require.Equal(t, Bulk{Updated: 2, Failed: []string{"b"}}, got)
}

func TestUpdatePageRequest_ToPatch(t *testing.T) {
	t.Parallel()

	var req UpdatePageRequest
	require.NoError(t, json.Unmarshal([]byte(`{"owner_uids":[]}`), &req))
	p := req.ToPatch()
	require.False(t, p.Empty())
	require.Error(t, p.Validate())

	req = UpdatePageRequest{}
	require.True(t, req.ToPatch().Empty())
}
