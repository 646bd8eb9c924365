package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"tush00nka/bbbab_teamchat/internal/broadcast"
	"tush00nka/bbbab_teamchat/internal/model"
	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/repository"
	"tush00nka/bbbab_teamchat/internal/service/mocks"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicChannelScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	dispatcher := broadcast.NewDispatcher(env.channelRepo, env.users, env.policy, nil)

	channel := env.channel(t, alice, model.VisibilityPublic)
	name := string(broadcast.PrivateChannel(channel.ID))

	// до вступления подписка и чтение запрещены, но канал виден
	decision, err := dispatcher.Authorize(ctx, bob.ID, name)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, apperr.Is(decision.Reason, apperr.Forbidden))

	_, err = env.channels.GetChannel(ctx, bob.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	_, err = env.messages.PostMessage(ctx, PostMessageInput{ChannelID: channel.ID, UserID: bob.ID, Content: "hi"})
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	_, err = env.channels.JoinChannel(ctx, bob.ID, channel.ID)
	require.NoError(t, err)
	assert.Contains(t, env.events.names(broadcast.PrivateChannel(channel.ID)), "channel.user.joined")

	_, err = env.channels.JoinChannel(ctx, bob.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.Conflict))

	decision, err = dispatcher.Authorize(ctx, bob.ID, name)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	fromAlice := env.post(t, channel.ID, alice, nil)
	fromBob := env.post(t, channel.ID, bob, nil)

	err = env.messages.DeleteMessage(ctx, fromAlice.ID, bob.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	require.NoError(t, env.messages.DeleteMessage(ctx, fromBob.ID, alice.ID))

	messages, total, err := env.messages.ListMessages(ctx, channel.ID, bob.ID, nil, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, fromAlice.ID, messages[0].ID)
}

func TestPrivateChannelIndistinguishableFromMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, carol := env.user(t, "alice"), env.user(t, "carol")

	channel := env.channel(t, alice, model.VisibilityPrivate)
	const missing = 9999

	for _, id := range []uint{channel.ID, missing} {
		_, err := env.channels.GetChannel(ctx, carol.ID, id)
		assert.True(t, apperr.Is(err, apperr.NotFound), "show %d", id)
		assert.Equal(t, "channel not found", apperr.MessageOf(err))

		_, _, err = env.channels.Members(ctx, carol.ID, id, repository.Page{})
		assert.True(t, apperr.Is(err, apperr.NotFound), "members %d", id)

		_, _, err = env.messages.ListMessages(ctx, id, carol.ID, nil, repository.Page{})
		assert.True(t, apperr.Is(err, apperr.NotFound), "messages %d", id)

		_, err = env.messages.PostMessage(ctx, PostMessageInput{ChannelID: id, UserID: carol.ID, Content: "hi"})
		assert.True(t, apperr.Is(err, apperr.NotFound), "post %d", id)

		_, err = env.channels.JoinChannel(ctx, carol.ID, id)
		assert.True(t, apperr.Is(err, apperr.NotFound), "join %d", id)

		err = env.channels.LeaveChannel(ctx, carol.ID, id)
		assert.True(t, apperr.Is(err, apperr.NotFound), "leave %d", id)
	}

	shown, err := env.channels.GetChannel(ctx, alice.ID, channel.ID)
	require.NoError(t, err)
	require.Len(t, shown.Members, 1)
	assert.Equal(t, model.RoleAdmin, shown.Members[0].Role)
}

func TestChannelValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice := env.user(t, "alice")

	tests := []struct {
		name  string
		input CreateChannelInput
	}{
		{"empty name", CreateChannelInput{Name: "   "}},
		{"unknown type", CreateChannelInput{Name: "x", Visibility: "secret"}},
		{"direct via create", CreateChannelInput{Name: "x", Visibility: model.VisibilityDirect}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.channels.CreateChannel(ctx, alice.ID, tt.input)
			assert.True(t, apperr.Is(err, apperr.ValidationFailed))
		})
	}

	for _, query := range []string{"a", strings.Repeat("x", 101)} {
		_, err := env.channels.SearchChannels(ctx, alice.ID, query)
		assert.True(t, apperr.Is(err, apperr.ValidationFailed))
	}
}

func TestUpdateAndLeaveChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	channel := env.channel(t, alice, model.VisibilityPublic)

	_, err := env.channels.JoinChannel(ctx, bob.ID, channel.ID)
	require.NoError(t, err)

	name := "renamed"
	_, err = env.channels.UpdateChannel(ctx, bob.ID, channel.ID, UpdateChannelInput{Name: &name})
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	updated, err := env.channels.UpdateChannel(ctx, alice.ID, channel.ID, UpdateChannelInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Contains(t, env.events.names(broadcast.PrivateChannel(channel.ID)), "channel.updated")

	err = env.channels.LeaveChannel(ctx, alice.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	assert.Empty(t, env.events.revocations())

	require.NoError(t, env.channels.LeaveChannel(ctx, bob.ID, channel.ID))
	// живые подписки bob на ленты канала снимаются вместе с участием
	assert.Equal(t, []revocation{{channelID: channel.ID, userID: bob.ID}}, env.events.revocations())
	left := env.events.on(broadcast.PrivateChannel(channel.ID))
	last := left[len(left)-1]
	assert.Equal(t, "channel.user.left", last.event.EventName())
	assert.Equal(t, bob.ID, last.exclude)

	err = env.channels.LeaveChannel(ctx, bob.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.Len(t, env.events.revocations(), 1)

	ids, err := env.channels.JoinedChannelIDs(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDirectChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	_, _, err := env.channels.DirectChannel(ctx, alice.ID, alice.ID)
	assert.True(t, apperr.Is(err, apperr.ValidationFailed))

	_, _, err = env.channels.DirectChannel(ctx, alice.ID, 4242)
	assert.True(t, apperr.Is(err, apperr.ValidationFailed))

	direct, created, err := env.channels.DirectChannel(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "DM: alice & bob", direct.Name)
	assert.Equal(t, model.VisibilityDirect, direct.Visibility)
	assert.Len(t, direct.Members, 2)

	again, created, err := env.channels.DirectChannel(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, direct.ID, again.ID)

	err = env.channels.LeaveChannel(ctx, bob.ID, direct.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestConcurrentDirectChannelConverges(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice.ID, bob.ID
			if i%2 == 1 {
				from, to = to, from
			}
			channel, _, err := env.channels.DirectChannel(context.Background(), from, to)
			if assert.NoError(t, err) {
				ids[i] = channel.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestDeleteChannelReleasesBlobsAndNotifiesMembers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	blobs := mocks.NewMockBlobStore(ctrl)
	env := newTestEnv(t, blobs)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	channel := env.channel(t, alice, model.VisibilityPublic)
	_, err := env.channels.JoinChannel(ctx, bob.ID, channel.ID)
	require.NoError(t, err)

	var stored string
	blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), "text/plain").
		DoAndReturn(func(_ context.Context, key string, _ io.Reader, _ int64, _ string) error {
			stored = key
			return nil
		})
	_, err = env.messages.PostMessage(ctx, PostMessageInput{
		ChannelID: channel.ID,
		UserID:    bob.ID,
		Content:   "file",
		Type:      model.MessageFile,
		Files:     []FileUpload{textFile("a.txt", "abc")},
	})
	require.NoError(t, err)

	err = env.channels.DeleteChannel(ctx, bob.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	blobs.EXPECT().Delete(gomock.Any(), stored).Return(nil)
	require.NoError(t, env.channels.DeleteChannel(ctx, alice.ID, channel.ID))

	for _, user := range []*model.User{alice, bob} {
		assert.Equal(t, []string{"channel.deleted"}, env.events.names(broadcast.PrivateUser(user.ID)))
	}
	assert.ElementsMatch(t, []revocation{
		{channelID: channel.ID, userID: alice.ID},
		{channelID: channel.ID, userID: bob.ID},
	}, env.events.revocations())

	_, err = env.channels.GetChannel(ctx, alice.ID, channel.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}
