// Package store holds the authoritative, versioned state of every device,
// alert and vulnerability.
//
// The Store is the only place entities change. Each accepted change bumps
// the entity's version by exactly one, is written through to the Repository,
// then handed to listeners (synchronously, under the entity's lock) and to
// publishers (best effort). Rejections never touch stored state.
//
//	s := store.New(store.NewSQLiteRepository(db.DB))
//	s.AddListener(view)
//	s.AddPublisher("broker", broker)
//	if err := s.Load(ctx); err != nil {
//	    return err
//	}
//
//	snap, err := s.Apply(ctx, entity.KindAlert, id, entity.Mutation{
//	    SourceVersion: 2,
//	    Alert:         &entity.AlertPatch{Status: &resolved},
//	})
//	switch {
//	case errors.Is(err, store.ErrStaleWrite):
//	    // refetch and retry
//	case errors.Is(err, lifecycle.ErrInvalidTransition):
//	    // report to the caller
//	}
//
// Removing a device cascades to its alerts and vulnerabilities and leaves
// tombstones so that late events for removed entities stay recognisably stale.
package store
