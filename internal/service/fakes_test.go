package service

import (
	"context"
	"sort"
	"sync"

	"msg-gateway/internal/model"
	"msg-gateway/internal/provider"
	"msg-gateway/internal/repository"
)

// memStore 内存版消息存储
type memStore struct {
	mu        sync.Mutex
	messages  []*model.Message
	nextID    uint
	createErr error
}

func (s *memStore) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if m.MessageSID != nil {
		for _, existing := range s.messages {
			if existing.Platform == m.Platform && existing.MessageSID != nil && *existing.MessageSID == *m.MessageSID {
				return repository.ErrDuplicateMessage
			}
		}
	}
	s.nextID++
	m.ID = s.nextID
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) UpdateBySID(ctx context.Context, sid string, mutate func(m *model.Message) bool) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.MessageSID != nil && *m.MessageSID == sid {
			cp := *m
			if mutate(&cp) {
				*m = cp
			}
			out := *m
			return &out, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (s *memStore) List(ctx context.Context, filter repository.MessageFilter) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, m := range s.messages {
		if filter.Platform != "" && string(m.Platform) != filter.Platform {
			continue
		}
		if filter.Direction != "" && string(m.Direction) != filter.Direction {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) GetByID(ctx context.Context, id uint) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (s *memStore) bySID(sid string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.MessageSID != nil && *m.MessageSID == sid {
			cp := *m
			return &cp
		}
	}
	return nil
}

func (s *memStore) all() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Message(nil), s.messages...)
}

// fakeSender 可配置返回值的Sender
type fakeSender struct {
	from   string
	result *provider.SendResult
	err    error
	block  bool

	gotTo   string
	gotBody string
}

func (f *fakeSender) Send(ctx context.Context, to, body string) (*provider.SendResult, error) {
	f.gotTo = to
	f.gotBody = body
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeSender) From() string {
	return f.from
}

// recordingObserver 记录收到的事件
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) MessageRecorded(ctx context.Context, event string, m *model.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}
