package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/repository"
	"github.com/iliyamo/event-reservation/internal/service"
	"github.com/iliyamo/event-reservation/internal/testutil"
)

func setup(t *testing.T) (context.Context, *sql.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	testutil.TruncateAll(t, ctx, db)
	return ctx, db
}

func insertEvent(t *testing.T, ctx context.Context, db *sql.DB, owner uint64, title string, capacity int, when time.Time) *model.Event {
	t.Helper()
	e := &model.Event{
		Title:      title,
		EventDate:  when,
		Capacity:   capacity,
		OwnerID:    owner,
		Tags:       []string{"music"},
		TagsColors: map[string]string{"music": "#112233"},
	}
	require.NoError(t, repository.NewEventRepo(db).Insert(ctx, e))
	return e
}

func TestEventRepoIntegration(t *testing.T) {
	ctx, db := setup(t)
	events := repository.NewEventRepo(db)
	txr := repository.NewTxRunner(db)
	owner := testutil.InsertUser(t, ctx, db, "owner", model.RoleUser)

	later := insertEvent(t, ctx, db, owner, "later", 2, time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC))
	sooner := insertEvent(t, ctx, db, owner, "sooner", 1, time.Date(2030, 1, 1, 18, 0, 0, 0, time.UTC))

	t.Run("insert fills places and id", func(t *testing.T) {
		assert.NotZero(t, later.ID)
		assert.Equal(t, 2, later.PlacesLeft)
		assert.False(t, later.CreatedAt.IsZero())

		got, err := events.Get(ctx, later.ID)
		require.NoError(t, err)
		assert.Equal(t, "later", got.Title)
		assert.Equal(t, []string{"music"}, got.Tags)
		assert.Equal(t, "#112233", got.TagsColors["music"])
		assert.True(t, got.EventDate.Equal(later.EventDate))
	})

	t.Run("list is ordered by date", func(t *testing.T) {
		list, err := events.List(ctx, owner)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, sooner.ID, list[0].ID)
		assert.Equal(t, "owner", list[0].OwnerUsername)
	})

	t.Run("get for update needs a transaction", func(t *testing.T) {
		_, err := events.GetForUpdate(ctx, later.ID)
		assert.Error(t, err)
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := events.Get(ctx, 999999)
		assert.ErrorIs(t, err, repository.ErrEventNotFound)
		assert.ErrorIs(t, events.Delete(ctx, 999999), repository.ErrEventNotFound)
	})

	t.Run("take and release", func(t *testing.T) {
		err := txr.WithTx(ctx, func(ctx context.Context) error {
			e, err := events.GetForUpdate(ctx, later.ID)
			if err != nil {
				return err
			}
			require.Equal(t, 2, e.PlacesLeft)
			if err := events.TakePlace(ctx, e.ID); err != nil {
				return err
			}
			return events.TakePlace(ctx, e.ID)
		})
		require.NoError(t, err)
		got, err := events.Get(ctx, later.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.PlacesLeft)

		// A third take at zero is a no-op rather than going negative.
		require.NoError(t, events.TakePlace(ctx, later.ID))
		got, _ = events.Get(ctx, later.ID)
		assert.Equal(t, 0, got.PlacesLeft)

		for i := 0; i < 3; i++ {
			require.NoError(t, events.ReleasePlace(ctx, later.ID))
		}
		got, _ = events.Get(ctx, later.ID)
		assert.Equal(t, 2, got.PlacesLeft, "release clamps at capacity")
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := txr.WithTx(ctx, func(ctx context.Context) error {
			if _, err := events.GetForUpdate(ctx, sooner.ID); err != nil {
				return err
			}
			if err := events.TakePlace(ctx, sooner.ID); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, _ := events.Get(ctx, sooner.ID)
		assert.Equal(t, 1, got.PlacesLeft)
	})

	t.Run("save writes every column", func(t *testing.T) {
		got, err := events.Get(ctx, sooner.ID)
		require.NoError(t, err)
		got.Title = "renamed"
		got.Capacity = 4
		got.PlacesLeft = 4
		got.Tags = []string{"jazz", "live"}
		got.TagsColors = map[string]string{"jazz": "#abcdef"}
		got.Image = model.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MIME: "image/png"}
		require.NoError(t, events.Save(ctx, got))

		v, err := events.View(ctx, sooner.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, "renamed", v.Title)
		assert.Equal(t, 4, v.Capacity)
		assert.Equal(t, []string{"jazz", "live"}, v.Tags)
		require.NotNil(t, v.ImageMIME)
		assert.Equal(t, "image/png", *v.ImageMIME)
		assert.Nil(t, v.ImageURL)
	})

	t.Run("lock wait times out", func(t *testing.T) {
		held := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- txr.WithTx(ctx, func(ctx context.Context) error {
				if _, err := events.GetForUpdate(ctx, later.ID); err != nil {
					close(held)
					return err
				}
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		err := txr.WithTx(ctx, func(ctx context.Context) error {
			_, err := events.GetForUpdate(ctx, later.ID)
			return err
		})
		close(release)
		require.NoError(t, <-done)
		assert.ErrorIs(t, err, repository.ErrLockTimeout)
		assert.True(t, repository.IsRetryable(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, events.Delete(ctx, sooner.ID))
		_, err := events.Get(ctx, sooner.ID)
		assert.ErrorIs(t, err, repository.ErrEventNotFound)
	})
}

func TestReservationRepoIntegration(t *testing.T) {
	ctx, db := setup(t)
	reservations := repository.NewReservationRepo(db)
	owner := testutil.InsertUser(t, ctx, db, "owner", model.RoleUser)
	alice := testutil.InsertUser(t, ctx, db, "alice", model.RoleUser)
	bob := testutil.InsertUser(t, ctx, db, "bob", model.RoleUser)
	e := insertEvent(t, ctx, db, owner, "show", 5, time.Now().Add(24*time.Hour))

	require.NoError(t, reservations.Insert(ctx, e.ID, alice))
	assert.ErrorIs(t, reservations.Insert(ctx, e.ID, alice), repository.ErrAlreadyReserved)
	require.NoError(t, reservations.Insert(ctx, e.ID, bob))

	ok, err := reservations.Exists(ctx, e.ID, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := reservations.CountByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	holders, err := reservations.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string{holders[0].Username, holders[1].Username})

	v, err := repository.NewEventRepo(db).View(ctx, e.ID, alice)
	require.NoError(t, err)
	assert.True(t, v.IsReserved)
	v, err = repository.NewEventRepo(db).View(ctx, e.ID, owner)
	require.NoError(t, err)
	assert.False(t, v.IsReserved)

	deleted, err := reservations.Delete(ctx, e.ID, alice)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = reservations.Delete(ctx, e.ID, alice)
	require.NoError(t, err)
	assert.False(t, deleted)

	gone, err := reservations.DeleteByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gone)
}

func TestCoordinatorAgainstMySQL(t *testing.T) {
	ctx, db := setup(t)
	owner := testutil.InsertUser(t, ctx, db, "owner", model.RoleUser)
	events := repository.NewEventRepo(db)
	reservations := repository.NewReservationRepo(db)
	coord := service.NewCoordinator(repository.NewTxRunner(db), events, reservations,
		service.WithLockTimeout(10*time.Second))

	const workers = 10
	users := make([]uint64, workers)
	for i := range users {
		users[i] = testutil.InsertUser(t, ctx, db, fmt.Sprintf("u%d", i), model.RoleUser)
	}

	t.Run("one seat many callers", func(t *testing.T) {
		e := insertEvent(t, ctx, db, owner, "last seat", 1, time.Now().Add(time.Hour))

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			wins   int
			losses int
		)
		for _, uid := range users {
			wg.Add(1)
			go func(uid uint64) {
				defer wg.Done()
				_, err := coord.Reserve(ctx, e.ID, uid)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, repository.ErrEventFull):
					losses++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(uid)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, losses)
		assertStored(t, ctx, events, reservations, e.ID)
	})

	t.Run("mixed reserve and unreserve", func(t *testing.T) {
		e := insertEvent(t, ctx, db, owner, "churn", 4, time.Now().Add(time.Hour))

		var wg sync.WaitGroup
		for _, uid := range users {
			wg.Add(1)
			go func(uid uint64) {
				defer wg.Done()
				for i := 0; i < 3; i++ {
					_, _ = coord.Reserve(ctx, e.ID, uid)
					_, _ = coord.Unreserve(ctx, e.ID, uid)
				}
				_, _ = coord.Reserve(ctx, e.ID, uid)
			}(uid)
		}
		wg.Wait()
		assertStored(t, ctx, events, reservations, e.ID)
	})

	t.Run("capacity edit", func(t *testing.T) {
		e := insertEvent(t, ctx, db, owner, "resize", 3, time.Now().Add(time.Hour))
		for _, uid := range users[:2] {
			_, err := coord.Reserve(ctx, e.ID, uid)
			require.NoError(t, err)
		}
		caller := model.Caller{UserID: owner, Role: model.RoleUser}

		_, err := coord.UpdateCapacity(ctx, e.ID, 1, caller)
		var ce *repository.CapacityError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 2, ce.Taken)

		v, err := coord.UpdateCapacity(ctx, e.ID, 6, caller)
		require.NoError(t, err)
		assert.Equal(t, 4, v.PlacesLeft)
		assertStored(t, ctx, events, reservations, e.ID)
	})

	t.Run("delete removes reservations", func(t *testing.T) {
		e := insertEvent(t, ctx, db, owner, "doomed", 2, time.Now().Add(time.Hour))
		_, err := coord.Reserve(ctx, e.ID, users[0])
		require.NoError(t, err)

		require.NoError(t, coord.DeleteEvent(ctx, e.ID, model.Caller{UserID: owner, Role: model.RoleUser}))
		n, err := reservations.CountByEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		_, err = coord.Reserve(ctx, e.ID, users[1])
		assert.ErrorIs(t, err, repository.ErrEventNotFound)
	})
}

func assertStored(t *testing.T, ctx context.Context, events *repository.EventRepo, reservations *repository.ReservationRepo, id uint64) {
	t.Helper()
	e, err := events.Get(ctx, id)
	require.NoError(t, err)
	n, err := reservations.CountByEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e.Capacity-n, e.PlacesLeft, "places_left must equal capacity minus reservations")
	assert.GreaterOrEqual(t, e.PlacesLeft, 0)
}

func TestUserRepoIntegration(t *testing.T) {
	ctx, db := setup(t)
	users := repository.NewUserRepo(db)

	id, err := users.Create(ctx, "  carol ", "Secret123!", model.RoleUser, 4)
	require.NoError(t, err)
	_, err = users.Create(ctx, "carol", "Secret123!", model.RoleUser, 4)
	assert.ErrorIs(t, err, repository.ErrUsernameExists)

	u, err := users.GetByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.NotEqual(t, "Secret123!", u.PasswordHash)

	_, err = users.GetByID(ctx, 999999)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	t.Run("ensure admin promotes", func(t *testing.T) {
		got, err := users.EnsureAdmin(ctx, "carol", "ignored", 4)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		u, _ := users.GetByID(ctx, id)
		assert.Equal(t, model.RoleAdmin, u.Role)

		fresh, err := users.EnsureAdmin(ctx, "root", "Secret123!", 4)
		require.NoError(t, err)
		assert.NotEqual(t, id, fresh)
	})

	t.Run("update", func(t *testing.T) {
		role := model.RoleUser
		name := "caroline"
		u, err := users.Update(ctx, id, &name, &role)
		require.NoError(t, err)
		assert.Equal(t, "caroline", u.Username)
		assert.Equal(t, model.RoleUser, u.Role)

		taken := "root"
		_, err = users.Update(ctx, id, &taken, nil)
		assert.ErrorIs(t, err, repository.ErrUsernameExists)
	})

	t.Run("delete hands seats back", func(t *testing.T) {
		owner := testutil.InsertUser(t, ctx, db, "host", model.RoleUser)
		e := insertEvent(t, ctx, db, owner, "gig", 3, time.Now().Add(time.Hour))
		events := repository.NewEventRepo(db)
		reservations := repository.NewReservationRepo(db)
		coord := service.NewCoordinator(repository.NewTxRunner(db), events, reservations)
		_, err := coord.Reserve(ctx, e.ID, id)
		require.NoError(t, err)

		require.NoError(t, users.Delete(ctx, id))
		got, err := events.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.PlacesLeft)
		assertStored(t, ctx, events, reservations, e.ID)

		assert.ErrorIs(t, users.Delete(ctx, id), repository.ErrUserNotFound)
	})

	t.Run("deleted user is not found", func(t *testing.T) {
		host := testutil.InsertUser(t, ctx, db, "venue", model.RoleUser)
		gone := testutil.InsertUser(t, ctx, db, "ghost", model.RoleUser)
		e := insertEvent(t, ctx, db, host, "after hours", 2, time.Now().Add(time.Hour))
		require.NoError(t, users.Delete(ctx, gone))

		events := repository.NewEventRepo(db)
		reservations := repository.NewReservationRepo(db)
		coord := service.NewCoordinator(repository.NewTxRunner(db), events, reservations)
		_, err := coord.Reserve(ctx, e.ID, gone)
		assert.ErrorIs(t, err, repository.ErrUserNotFound)
		assertStored(t, ctx, events, reservations, e.ID)

		err = events.Insert(ctx, &model.Event{Title: "orphan", EventDate: time.Now(), Capacity: 1, OwnerID: gone})
		assert.ErrorIs(t, err, repository.ErrUserNotFound)

		dark := "dark"
		_, err = repository.NewSettingsRepo(db).Update(ctx, gone, model.SettingsPatch{Theme: &dark})
		assert.ErrorIs(t, err, repository.ErrUserNotFound)
	})

	t.Run("list", func(t *testing.T) {
		all, err := users.List(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, all)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].ID, all[i].ID)
		}
	})
}

func TestTokenRepoIntegration(t *testing.T) {
	ctx, db := setup(t)
	tokens := repository.NewTokenRepo(db)
	uid := testutil.InsertUser(t, ctx, db, "dave", model.RoleUser)
	exp := time.Now().Add(time.Hour)

	require.NoError(t, tokens.StoreRefresh(ctx, uid, "hash-1", exp))
	got, err := tokens.ValidateRefresh(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	got, err = tokens.Rotate(ctx, "hash-1", "hash-2", exp)
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = tokens.ValidateRefresh(ctx, "hash-1")
	assert.ErrorIs(t, err, repository.ErrInvalidRefresh)
	_, err = tokens.Rotate(ctx, "hash-1", "hash-3", exp)
	assert.ErrorIs(t, err, repository.ErrInvalidRefresh, "a rotated token works once")

	require.NoError(t, tokens.StoreRefresh(ctx, uid, "expired", time.Now().Add(-time.Minute)))
	_, err = tokens.ValidateRefresh(ctx, "expired")
	assert.ErrorIs(t, err, repository.ErrInvalidRefresh)

	require.NoError(t, tokens.RevokeByHash(ctx, "hash-2"))
	assert.ErrorIs(t, tokens.RevokeByHash(ctx, "hash-2"), repository.ErrInvalidRefresh)

	require.NoError(t, tokens.StoreRefresh(ctx, uid, "hash-4", exp))
	require.NoError(t, tokens.RevokeAllForUser(ctx, uid))
	_, err = tokens.ValidateRefresh(ctx, "hash-4")
	assert.ErrorIs(t, err, repository.ErrInvalidRefresh)
}

func TestSettingsRepoIntegration(t *testing.T) {
	ctx, db := setup(t)
	settings := repository.NewSettingsRepo(db)
	uid := testutil.InsertUser(t, ctx, db, "erin", model.RoleUser)

	s, err := settings.Get(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(uid).Theme, s.Theme)

	dark := "dark"
	s, err = settings.Update(ctx, uid, model.SettingsPatch{Theme: &dark})
	require.NoError(t, err)
	assert.Equal(t, "dark", s.Theme)

	color := "#ff8800"
	s, err = settings.Update(ctx, uid, model.SettingsPatch{PrimaryColor: &color})
	require.NoError(t, err)
	assert.Equal(t, "dark", s.Theme, "earlier fields survive a second upsert")
	assert.Equal(t, "#ff8800", s.PrimaryColor)

	bad := "neon"
	_, err = settings.Update(ctx, uid, model.SettingsPatch{Theme: &bad})
	assert.ErrorIs(t, err, repository.ErrSettingsInvalid)
}
