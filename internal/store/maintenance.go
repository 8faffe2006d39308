package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/ledger"
)

// BackfillMasterIndexes derives the stored index of masters created before
// the idx column existed from their "{category}_{n}.pdf" file names. It
// returns how many rows were updated.
func (s *Store) BackfillMasterIndexes(ctx context.Context) (int, error) {
	updated := 0
	err := s.WithTx(ctx, func(tx *Tx) error {
		masters, err := tx.MastersMissingIndex(ctx)
		if err != nil {
			return err
		}
		for i := range masters {
			m := masters[i]
			cat, err := tx.CategoryByID(ctx, m.CategoryID)
			if err != nil {
				return err
			}
			n, ok := ledger.LegacyIndex(m.FilePath, cat.Name)
			if !ok {
				n, ok = ledger.LegacyIndex(m.Name+".pdf", cat.Name)
			}
			if !ok {
				log.Warn().Int64("master_id", m.ID).Str("file", m.FilePath).Msg("cannot derive master index from file name; left unset")
				continue
			}
			m.Index = n
			if err := tx.UpdateMaster(ctx, &m); err != nil {
				return fmt.Errorf("backfill master %s: %w", m.Name, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		log.Info().Int("masters", updated).Msg("master indexes backfilled")
	}
	return updated, nil
}
