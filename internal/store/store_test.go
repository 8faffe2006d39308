package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/store"
	"github.com/local/masterdoc/internal/testsupport"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func seedMaster(t *testing.T, s *store.Store, category string, idx int) ledger.Master {
	t.Helper()
	var m ledger.Master
	require.NoError(t, s.WithTx(context.Background(), func(tx *store.Tx) error {
		cat, err := tx.EnsureCategory(context.Background(), category)
		if err != nil {
			return err
		}
		m = ledger.Master{
			CategoryID:   cat.ID,
			Name:         ledger.MasterName(category, idx),
			FilePath:     "/masters/" + ledger.MasterName(category, idx) + ".pdf",
			Index:        idx,
			ByteSizeCap:  1 << 20,
			LeadingPages: 1,
		}
		return tx.CreateMaster(context.Background(), &m)
	}))
	return m
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openStore(t)
	applied, err := s.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_master_index", "0003_record_pages", "0004_unprocessed"}, applied)
	require.NoError(t, s.Ping(context.Background()))
}

func TestReopenIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, err := store.Open(cfg.Storage.DBPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = testsupport.MustOpenStore(t, cfg)
	applied, err := s.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, applied, 4)
}

func TestCategoryLookups(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		first, err := tx.EnsureCategory(ctx, "news")
		require.NoError(t, err)
		again, err := tx.EnsureCategory(ctx, "news")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		byID, err := tx.CategoryByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "news", byID.Name)

		_, err = tx.CategoryByName(ctx, "sports")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = tx.EnsureCategory(ctx, "arts")
		require.NoError(t, err)
		all, err := tx.ListCategories(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "arts", all[0].Name)
		return nil
	}))
}

func TestMasterLookupsAndActive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	first := seedMaster(t, s, "news", 1)
	second := seedMaster(t, s, "news", 2)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.MasterByName(ctx, "news_1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, m.ID)
		assert.Equal(t, 1, m.LeadingPages)

		m, err = tx.MasterByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, "news_2", m.Name)

		active, err := tx.ActiveMaster(ctx, first.CategoryID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		_, err = tx.MasterByID(ctx, 999)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		_, err = tx.ActiveMaster(ctx, 999)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		m.Sealed = true
		require.NoError(t, tx.UpdateMaster(ctx, m))
		list, err := tx.MastersByCategory(ctx, first.CategoryID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.True(t, list[1].Sealed)
		return nil
	}))
}

func TestRecordCRUDAndUniquePage(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	m := seedMaster(t, s, "news", 1)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		a := &ledger.PageRecord{MasterID: ledger.Int64Ptr(m.ID), LogicalPage: ledger.IntPtr(0), SourceRef: "http://a.example/1", PageCount: 2, Status: ledger.StatusAssembled}
		require.NoError(t, tx.CreateRecord(ctx, a))
		b := &ledger.PageRecord{MasterID: ledger.Int64Ptr(m.ID), LogicalPage: ledger.IntPtr(2), SourceRef: "http://a.example/2", PageCount: 1}
		require.NoError(t, tx.CreateRecord(ctx, b))
		assert.Equal(t, ledger.StatusPending, b.Status)

		dup := &ledger.PageRecord{MasterID: ledger.Int64Ptr(m.ID), LogicalPage: ledger.IntPtr(2), SourceRef: "http://a.example/3"}
		assert.Error(t, tx.CreateRecord(ctx, dup))

		records, err := tx.RecordsByMaster(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "http://a.example/1", records[0].SourceRef)

		require.NoError(t, tx.SetRecordPage(ctx, b.ID, 5))
		got, err := tx.RecordBySourceRef(ctx, "http://a.example/2")
		require.NoError(t, err)
		assert.Equal(t, 5, *got.LogicalPage)

		got.MasterID, got.LogicalPage = nil, nil
		require.NoError(t, tx.UpdateRecord(ctx, got))
		records, err = tx.RecordsByMaster(ctx, m.ID)
		require.NoError(t, err)
		assert.Len(t, records, 1)

		require.NoError(t, tx.DeleteRecord(ctx, a.ID))
		_, err = tx.RecordByID(ctx, a.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.ErrorIs(t, tx.DeleteRecord(ctx, a.ID), ledger.ErrNotFound)
		assert.ErrorIs(t, tx.SetRecordPage(ctx, a.ID, 1), ledger.ErrNotFound)
		return nil
	}))
}

func TestWithTxRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.EnsureCategory(ctx, "news"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.CategoryByName(ctx, "news")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		return nil
	}))
}

func TestUnprocessedQueue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		news, err := tx.EnsureCategory(ctx, "news")
		require.NoError(t, err)
		arts, err := tx.EnsureCategory(ctx, "arts")
		require.NoError(t, err)

		items := []ledger.Unprocessed{
			{SourceRef: "http://x/late", CategoryID: news.ID, ContentRef: "late.pdf", DiscoveredAt: base.Add(time.Second)},
			{SourceRef: "http://x/early", CategoryID: news.ID, ContentRef: "early.pdf", DiscoveredAt: base.Add(999 * time.Millisecond)},
			{SourceRef: "http://x/art", CategoryID: arts.ID, ContentRef: "art.pdf", DiscoveredAt: base},
		}
		for i := range items {
			added, err := tx.Enqueue(ctx, &items[i])
			require.NoError(t, err)
			assert.True(t, added)
		}
		added, err := tx.Enqueue(ctx, &ledger.Unprocessed{SourceRef: "http://x/late", CategoryID: news.ID, ContentRef: "again.pdf"})
		require.NoError(t, err)
		assert.False(t, added)

		cats, err := tx.PendingCategories(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 2)
		assert.Equal(t, "arts", cats[0].Name)

		pending, err := tx.PendingUnprocessed(ctx, news.ID)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "http://x/early", pending[0].SourceRef)
		assert.Equal(t, "news", pending[0].Category)

		require.NoError(t, tx.MarkUnprocessed(ctx, pending[0].ID, ledger.QueueFailed, "bad bytes"))
		u, err := tx.UnprocessedBySourceRef(ctx, "http://x/early")
		require.NoError(t, err)
		assert.Equal(t, ledger.QueueFailed, u.Status)
		assert.Equal(t, "bad bytes", u.Error)

		pending, err = tx.PendingUnprocessed(ctx, news.ID)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
		return nil
	}))
}

func TestBackfillMasterIndexes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		cat, err := tx.EnsureCategory(ctx, "news")
		require.NoError(t, err)
		legacy := []ledger.Master{
			{CategoryID: cat.ID, Name: "news_3", FilePath: "/old/news_3.pdf", ByteSizeCap: 1},
			{CategoryID: cat.ID, Name: "news_x", FilePath: "/old/news_7.pdf", ByteSizeCap: 1},
			{CategoryID: cat.ID, Name: "odd", FilePath: "/old/odd.pdf", ByteSizeCap: 1},
		}
		for i := range legacy {
			require.NoError(t, tx.CreateMaster(ctx, &legacy[i]))
		}
		return nil
	}))

	n, err := s.BackfillMasterIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.MasterByName(ctx, "news_x")
		require.NoError(t, err)
		assert.Equal(t, 7, m.Index)
		missing, err := tx.MastersMissingIndex(ctx)
		require.NoError(t, err)
		require.Len(t, missing, 1)
		assert.Equal(t, "odd", missing[0].Name)
		return nil
	}))
}
