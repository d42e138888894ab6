package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket       = []byte("sessions")
	messagesBucket       = []byte("messages")
	artifactsBucket      = []byte("artifacts")
	artifactGroupsBucket = []byte("artifact_groups")
	projectsBucket       = []byte("projects")
)

// BoltStore keeps everything in a single bbolt file. Messages live in one
// nested bucket per session keyed by insertion sequence; artifact versions
// are indexed per group so that the next version can be computed inside the
// same write transaction that inserts it.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, messagesBucket, artifactsBucket, artifactGroupsBucket, projectsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) CreateSession(_ context.Context, sess *Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(sessionsBucket), []byte(sess.ID), sess)
	})
}

func (s *BoltStore) GetSession(_ context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(sessionsBucket), []byte(id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) ListSessions(_ context.Context, userID string) ([]Session, error) {
	var out []Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.UserID == userID {
				out = append(out, sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *BoltStore) UpdateSessionTitle(_ context.Context, id, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var sess Session
		if err := getJSON(b, []byte(id), &sess); err != nil {
			return err
		}
		sess.Title = title
		sess.UpdatedAt = time.Now().UTC()
		return putJSON(b, []byte(id), &sess)
	})
}

func (s *BoltStore) DeleteSession(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		if sessions.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := sessions.Delete([]byte(id)); err != nil {
			return err
		}

		msgs := tx.Bucket(messagesBucket)
		if msgs.Bucket([]byte(id)) != nil {
			if err := msgs.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		// Collect first: deleting while iterating a bucket skips keys.
		arts := tx.Bucket(artifactsBucket)
		var rows, groups [][]byte
		err := arts.ForEach(func(k, v []byte) error {
			var a Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.SessionID == id {
				rows = append(rows, bytes.Clone(k))
				groups = append(groups, []byte(a.GroupID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range rows {
			if err := arts.Delete(k); err != nil {
				return err
			}
		}
		idx := tx.Bucket(artifactGroupsBucket)
		for _, g := range groups {
			if idx.Bucket(g) == nil {
				continue
			}
			if err := idx.DeleteBucket(g); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) AddMessage(_ context.Context, m *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		var sess Session
		if err := getJSON(sessions, []byte(m.SessionID), &sess); err != nil {
			return fmt.Errorf("session %s: %w", m.SessionID, err)
		}

		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(m.SessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := putJSON(b, itob(seq), m); err != nil {
			return err
		}

		if m.CreatedAt.After(sess.UpdatedAt) {
			sess.UpdatedAt = m.CreatedAt
		}
		return putJSON(sessions, []byte(sess.ID), &sess)
	})
}

func (s *BoltStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) CountMessages(_ context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(sessionID))
		if b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func (s *BoltStore) InsertArtifact(_ context.Context, a *Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return insertArtifact(tx, a)
	})
}

func (s *BoltStore) AppendArtifactVersion(_ context.Context, a *Artifact) error {
	// bbolt serializes write transactions, so reading the current maximum and
	// inserting max+1 here cannot interleave with another writer.
	return s.db.Update(func(tx *bolt.Tx) error {
		group := tx.Bucket(artifactGroupsBucket).Bucket([]byte(a.GroupID))
		if group == nil {
			return ErrNotFound
		}
		k, rowID := group.Cursor().Last()
		if k == nil {
			return ErrNotFound
		}
		var latest Artifact
		if err := getJSON(tx.Bucket(artifactsBucket), rowID, &latest); err != nil {
			return err
		}
		if latest.SessionID != a.SessionID {
			return ErrNotFound
		}
		a.Version = int(binary.BigEndian.Uint64(k)) + 1
		return insertArtifact(tx, a)
	})
}

func (s *BoltStore) GetArtifact(_ context.Context, rowID string) (*Artifact, error) {
	var a Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(artifactsBucket), []byte(rowID), &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) LatestArtifact(_ context.Context, groupID string) (*Artifact, error) {
	var a Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		group := tx.Bucket(artifactGroupsBucket).Bucket([]byte(groupID))
		if group == nil {
			return ErrNotFound
		}
		k, rowID := group.Cursor().Last()
		if k == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(artifactsBucket), rowID, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListArtifacts(_ context.Context, sessionID string) ([]Artifact, error) {
	var out []Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactsBucket).ForEach(func(_, v []byte) error {
			var a Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.SessionID == sessionID {
				out = append(out, a)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetProject(_ context.Context, id, userID string) (*Project, error) {
	var p Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(projectsBucket), []byte(id), &p)
	})
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrNotFound
	}
	return &p, nil
}

// PutProject stores project context. Projects are owned by another system;
// this exists to seed local databases.
func (s *BoltStore) PutProject(p Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(projectsBucket), []byte(p.ID), &p)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func insertArtifact(tx *bolt.Tx, a *Artifact) error {
	group, err := tx.Bucket(artifactGroupsBucket).CreateBucketIfNotExists([]byte(a.GroupID))
	if err != nil {
		return err
	}
	vk := itob(uint64(a.Version))
	if group.Get(vk) != nil {
		return fmt.Errorf("artifact %s version %d already exists", a.GroupID, a.Version)
	}
	if err := group.Put(vk, []byte(a.ID)); err != nil {
		return err
	}
	return putJSON(tx.Bucket(artifactsBucket), []byte(a.ID), a)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
