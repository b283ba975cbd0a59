package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.scholarhub.net/triage/pkg/mysqltest"
	"go.scholarhub.net/triage/pkg/types"
)

func TestStore(t *testing.T) {
	db := mysqltest.New(t)
	defer db.Close(t)
	ctx := context.Background()

	store := &Store{DB: db.DB}
	require.NoError(t, store.CreateTables(ctx))

	_, err := store.GetReferrer(ctx, "scholar_vlogs")
	assert.True(t, errors.Is(err, ErrNotFound))

	ref := Referrer{
		Username:      "scholar_vlogs",
		Platform:      types.PlatformYouTube,
		FollowerCount: 120000,
		Scholar:       true,
	}
	require.NoError(t, store.PutReferrer(ctx, &ref))
	got, err := store.GetReferrer(ctx, "scholar_vlogs")
	require.NoError(t, err)
	assert.Equal(t, ref, *got)

	// Re-registering overwrites.
	ref.FollowerCount = 150000
	require.NoError(t, store.PutReferrer(ctx, &ref))
	got, err = store.GetReferrer(ctx, "scholar_vlogs")
	require.NoError(t, err)
	assert.Equal(t, int64(150000), got.FollowerCount)

	faq := FAQ{Question: "When do applications open?", Answer: "In January."}
	require.NoError(t, store.AddFAQ(ctx, &faq))
	assert.NotZero(t, faq.ID)
	faqs, err := store.ListFAQs(ctx)
	require.NoError(t, err)
	require.Len(t, faqs, 1)
	assert.Equal(t, faq, faqs[0])
}
