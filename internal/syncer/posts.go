// internal/syncer/posts.go
// PostQueue holds feed posts created on this device. Posts created while
// offline stay pending until the reconciler pushes them; the queue is
// ephemeral by design, matching the feed's best-effort semantics.
package syncer

import (
	"sort"
	"sync"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/oklog/ulid/v2"
)

// PostQueue is a mutex-guarded in-memory queue of social posts.
type PostQueue struct {
	mu    sync.RWMutex
	posts map[string]*model.SocialPost
}

// NewPostQueue creates an empty post queue.
func NewPostQueue() *PostQueue {
	return &PostQueue{posts: make(map[string]*model.SocialPost)}
}

// Add assigns the post an id and creation time and enqueues it.
// Posts enter the queue pending and stay pending until pushed.
func (q *PostQueue) Add(post model.SocialPost) model.SocialPost {
	q.mu.Lock()
	defer q.mu.Unlock()

	post.ID = ulid.Make().String()
	post.Timestamp = time.Now().UTC()
	post.Pending = true
	postCopy := post
	q.posts[post.ID] = &postCopy
	return post
}

// All returns every queued post, newest-first.
func (q *PostQueue) All() []model.SocialPost {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]model.SocialPost, 0, len(q.posts))
	for _, post := range q.posts {
		out = append(out, *post)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Pending returns the posts not yet pushed to the remote feed, newest-first.
func (q *PostQueue) Pending() []model.SocialPost {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]model.SocialPost, 0)
	for _, post := range q.posts {
		if post.Pending {
			out = append(out, *post)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// MarkPushed clears the pending flag; unknown ids are a no-op.
func (q *PostQueue) MarkPushed(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if post, exists := q.posts[id]; exists {
		post.Pending = false
	}
}
