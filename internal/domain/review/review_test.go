package review

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
)

type memRepo struct {
	reviews []Review
	targets map[Target]bool
}

func (m *memRepo) Create(_ context.Context, r *Review) error {
	for _, existing := range m.reviews {
		if existing.UserID == r.UserID && existing.Target == r.Target {
			return ErrDuplicate
		}
	}
	m.reviews = append(m.reviews, *r)
	return nil
}

func (m *memRepo) List(_ context.Context, t Target, p Page) ([]Review, error) {
	var out []Review
	for _, r := range m.reviews {
		if r.Target == t {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if p.Offset >= len(out) {
		return nil, nil
	}
	out = out[p.Offset:]
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (m *memRepo) TargetExists(_ context.Context, t Target) (bool, error) {
	return m.targets[t], nil
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("seller", "s1")
	require.NoError(t, err)
	assert.Equal(t, Target{Kind: KindSeller, ID: "s1"}, got)
	assert.Equal(t, "seller:s1", got.String())

	_, err = ParseTarget("restaurant", "r1")
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	_, err = ParseTarget("product", "")
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: defaultLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: maxLimit, Offset: 0}, Page{Limit: 1000, Offset: -3}.Normalize())
	assert.Equal(t, Page{Limit: 5, Offset: 10}, Page{Limit: 5, Offset: 10}.Normalize())
}

func TestService_Create(t *testing.T) {
	target := Target{Kind: KindProduct, ID: "p1"}
	repo := &memRepo{targets: map[Target]bool{target: true}}
	svc := NewService(repo)
	user := auth.Principal{SubjectID: "u1", Role: auth.RoleUser}
	ctx := context.Background()

	r, err := svc.Create(ctx, user, CreateRequest{Target: target, Rating: 5, Comment: "great"})
	require.NoError(t, err)
	assert.Equal(t, "u1", r.UserID)

	_, err = svc.Create(ctx, user, CreateRequest{Target: target, Rating: 4})
	require.ErrorIs(t, err, ErrDuplicate)

	for _, rating := range []int{0, 6} {
		_, err = svc.Create(ctx, user, CreateRequest{Target: target, Rating: rating})
		assert.Equal(t, fault.Validation, fault.KindOf(err), rating)
	}

	_, err = svc.Create(ctx, user, CreateRequest{Target: Target{Kind: KindProduct, ID: "nope"}, Rating: 3})
	require.ErrorIs(t, err, ErrTargetNotFound)

	_, err = svc.Create(ctx, auth.Principal{SubjectID: "s1", Role: auth.RoleSeller}, CreateRequest{Target: target, Rating: 3})
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestService_ListIsDeterministic(t *testing.T) {
	target := Target{Kind: KindEvent, ID: "e1"}
	same := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &memRepo{reviews: []Review{
		{ID: "b", Target: target, Rating: 4, CreatedAt: same},
		{ID: "c", Target: target, Rating: 3, CreatedAt: same},
		{ID: "a", Target: target, Rating: 5, CreatedAt: same.Add(time.Hour)},
		{ID: "z", Target: Target{Kind: KindEvent, ID: "other"}, Rating: 1, CreatedAt: same},
	}}
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.List(ctx, target, Page{})
	require.NoError(t, err)
	second, err := svc.List(ctx, target, Page{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids := make([]string, len(first))
	for i, r := range first {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "c", "b"}, ids)

	page, err := svc.List(ctx, target, Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)
}
