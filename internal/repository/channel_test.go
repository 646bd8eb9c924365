package repository

import (
	"context"
	"sync"
	"testing"

	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_CreateDirectIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	repo := NewChannelRepository(db)

	first, created, err := repo.CreateDirect(ctx, &model.Channel{Name: "dm", CreatorID: alice.ID}, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateDirect(ctx, &model.Channel{Name: "dm", CreatorID: bob.ID}, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	role, err := NewMembershipRepository(db).RoleOf(ctx, first.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)
	role, err = NewMembershipRepository(db).RoleOf(ctx, first.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, role)
}

func TestChannel_ConcurrentCreateDirectConverges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	repo := NewChannelRepository(db)

	const workers = 6
	ids := make([]uint, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator, other := alice.ID, bob.ID
			if i%2 == 1 {
				creator, other = other, creator
			}
			ch, _, err := repo.CreateDirect(ctx, &model.Channel{Name: "dm", CreatorID: creator}, other)
			if assert.NoError(t, err) {
				ids[i] = ch.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var channels int64
	require.NoError(t, db.Model(&model.Channel{}).Where("visibility = ?", model.VisibilityDirect).Count(&channels).Error)
	assert.EqualValues(t, 1, channels)
}

func TestChannel_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	channel := createChannel(t, db, alice, model.VisibilityPublic)
	messages := NewMessageRepository(db)

	root := &model.Message{ChannelID: channel.ID, UserID: alice.ID, Content: "hello", Type: model.MessageFile,
		Attachments: []model.Attachment{{FileName: "a.txt", FilePath: "attachments/a.txt", FileSize: 3}}}
	require.NoError(t, messages.Create(ctx, root))
	_, err := NewReactionRepository(db).Toggle(ctx, root.ID, alice.ID, "👍")
	require.NoError(t, err)

	repo := NewChannelRepository(db)
	paths, err := repo.Delete(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"attachments/a.txt"}, paths)

	for _, m := range []any{&model.Message{}, &model.Attachment{}, &model.MessageReaction{}, &model.ChannelMember{}} {
		var count int64
		require.NoError(t, db.Unscoped().Model(m).Count(&count).Error)
		assert.Zero(t, count, "%T left behind", m)
	}

	_, err = repo.Delete(ctx, channel.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestChannel_UpdateAndListForUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	repo := NewChannelRepository(db)

	pub := createChannel(t, db, alice, model.VisibilityPublic)
	createChannel(t, db, alice, model.VisibilityPrivate)
	createChannel(t, db, bob, model.VisibilityPublic)

	name := "renamed"
	updated, err := repo.Update(ctx, pub.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = repo.Update(ctx, 999, &name, nil)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	all, total, err := repo.ListForUser(ctx, alice.ID, "", Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)

	private, total, err := repo.ListForUser(ctx, alice.ID, model.VisibilityPrivate, Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, private, 1)
	assert.Equal(t, model.VisibilityPrivate, private[0].Visibility)
}

func TestChannel_SearchHidesForeignPrivate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	repo := NewChannelRepository(db)

	for _, c := range []*model.Channel{
		{Name: "Design public", Visibility: model.VisibilityPublic, CreatorID: alice.ID},
		{Name: "design secret", Visibility: model.VisibilityPrivate, CreatorID: alice.ID},
		{Name: "Marketing", Visibility: model.VisibilityPublic, CreatorID: alice.ID},
	} {
		require.NoError(t, repo.Create(ctx, c))
	}

	forBob, err := repo.Search(ctx, bob.ID, "DESIGN", 10)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "Design public", forBob[0].Name)

	forAlice, err := repo.Search(ctx, alice.ID, "design", 10)
	require.NoError(t, err)
	assert.Len(t, forAlice, 2)
}

func TestChannel_SearchTreatsWildcardsLiterally(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	repo := NewChannelRepository(db)

	for _, c := range []*model.Channel{
		{Name: "100% uptime", Visibility: model.VisibilityPublic, CreatorID: alice.ID},
		{Name: "snake_case", Visibility: model.VisibilityPublic, CreatorID: alice.ID},
		{Name: `back\slash`, Visibility: model.VisibilityPublic, CreatorID: alice.ID},
		{Name: "plain", Visibility: model.VisibilityPublic, CreatorID: alice.ID},
	} {
		require.NoError(t, repo.Create(ctx, c))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"__", nil},
		{"_", []string{"snake_case"}},
		{"%", []string{"100% uptime"}},
		{`\`, []string{`back\slash`}},
		{"ai", []string{"plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			found, err := repo.Search(ctx, alice.ID, tt.query, 10)
			require.NoError(t, err)
			var names []string
			for _, c := range found {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}
