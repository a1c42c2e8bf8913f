package replication

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"unicode/utf8"

	"github.com/swarmguard/mergekv/internal/crdt"
	"github.com/swarmguard/mergekv/internal/store"
	"github.com/swarmguard/mergekv/internal/wire"
)

// handler applies one verb to a key. It returns the response payload;
// mutating handlers also return the encoded new state for gossip.
type handler func(ctx context.Context, key string, payload []byte) (resp []byte, push *wire.CrdtData, err error)

// dispatchTable maps command verbs to handlers.
func (s *Service) dispatchTable() map[string]handler {
	return map[string]handler{
		"CSET": s.handleSetCounter,
		"CGET": s.handleGetCounter,
		"CINC": s.handleIncCounter,
		"CDEC": s.handleDecCounter,
		"SADD": s.handleAddSet,
		"SREM": s.handleRemSet,
		"SGET": s.handleGetSet,
		"RSET": s.handleSetRegister,
		"RGET": s.handleGetRegister,
		"RAPP": s.handleAppendRegister,
		"RLEN": s.handleRegisterLen,
	}
}

// Dispatch routes one command through the verb table. On success the
// response payload comes back and, for mutating verbs, the reactive push
// has been started.
func (s *Service) Dispatch(ctx context.Context, req wire.PropagateDataRequest) ([]byte, error) {
	h, ok := s.handlers[req.ValueType]
	if !ok {
		return nil, invalidArgf("unknown command %q", req.ValueType)
	}
	resp, push, err := h(ctx, req.Key, req.Value)
	if err != nil {
		return nil, err
	}
	if push != nil {
		s.afterMutation(ctx, req.ValueType, req.Key, *push)
	}
	return resp, nil
}

func beUint64(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, invalidArgf("expected 8-byte big-endian integer, got %d bytes", len(payload))
	}
	return binary.BigEndian.Uint64(payload), nil
}

func utf8String(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", invalidArgf("payload is not valid UTF-8")
	}
	return string(payload), nil
}

func (s *Service) handleSetCounter(_ context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	v, err := beUint64(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	s.store.Upsert(key,
		func(sv *store.StoredValue) bool {
			if sv.Data.Kind() != crdt.KindCounter {
				applyErr = typeMismatch(key, crdt.KindCounter, sv.Data.Kind())
				return false
			}
			sv.Data = crdt.CounterValue(crdt.NewPNCounter(s.nodeID, v, 0))
			push = wire.Encode(sv.Data)
			return true
		},
		func() crdt.Value {
			val := crdt.CounterValue(crdt.NewPNCounter(s.nodeID, v, 0))
			push = wire.Encode(val)
			return val
		})
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleGetCounter(_ context.Context, key string, _ []byte) ([]byte, *wire.CrdtData, error) {
	sv, ok := s.store.Get(key)
	if !ok {
		return nil, nil, ErrNotFound
	}
	if sv.Data.Kind() != crdt.KindCounter {
		return nil, nil, typeMismatch(key, crdt.KindCounter, sv.Data.Kind())
	}
	resp := make([]byte, 8)
	binary.BigEndian.PutUint64(resp, uint64(sv.Data.Counter.Value()))
	return resp, nil, nil
}

func (s *Service) handleIncCounter(ctx context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	return s.bumpCounter(ctx, key, payload, func(c *crdt.PNCounter, amt uint64) {
		c.Increment(s.nodeID, amt)
	})
}

func (s *Service) handleDecCounter(ctx context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	return s.bumpCounter(ctx, key, payload, func(c *crdt.PNCounter, amt uint64) {
		c.Decrement(s.nodeID, amt)
	})
}

func (s *Service) bumpCounter(_ context.Context, key string, payload []byte, bump func(*crdt.PNCounter, uint64)) ([]byte, *wire.CrdtData, error) {
	amt, err := beUint64(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	found := s.store.Update(key, func(sv *store.StoredValue) bool {
		if sv.Data.Kind() != crdt.KindCounter {
			applyErr = typeMismatch(key, crdt.KindCounter, sv.Data.Kind())
			return false
		}
		bump(sv.Data.Counter, amt)
		push = wire.Encode(sv.Data)
		return true
	})
	if !found {
		return nil, nil, ErrNotFound
	}
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleAddSet(_ context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	elem, err := utf8String(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	s.store.Upsert(key,
		func(sv *store.StoredValue) bool {
			if sv.Data.Kind() != crdt.KindSet {
				applyErr = typeMismatch(key, crdt.KindSet, sv.Data.Kind())
				return false
			}
			sv.Data.Set.Add(elem, s.nodeID)
			push = wire.Encode(sv.Data)
			return true
		},
		func() crdt.Value {
			set := crdt.NewAWSet()
			set.Add(elem, s.nodeID)
			val := crdt.SetValue(set)
			push = wire.Encode(val)
			return val
		})
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleRemSet(_ context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	elem, err := utf8String(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	found := s.store.Update(key, func(sv *store.StoredValue) bool {
		if sv.Data.Kind() != crdt.KindSet {
			applyErr = typeMismatch(key, crdt.KindSet, sv.Data.Kind())
			return false
		}
		sv.Data.Set.Remove(elem)
		push = wire.Encode(sv.Data)
		return true
	})
	if !found {
		return nil, nil, ErrNotFound
	}
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleGetSet(_ context.Context, key string, _ []byte) ([]byte, *wire.CrdtData, error) {
	sv, ok := s.store.Get(key)
	if !ok {
		return nil, nil, ErrNotFound
	}
	if sv.Data.Kind() != crdt.KindSet {
		return nil, nil, typeMismatch(key, crdt.KindSet, sv.Data.Kind())
	}
	resp, err := json.Marshal(sv.Data.Set.Read())
	if err != nil {
		slog.Error("encoding set members failed", "key", key, "error", err)
		return nil, nil, err
	}
	return resp, nil, nil
}

func (s *Service) handleSetRegister(_ context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	v, err := utf8String(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	s.store.Upsert(key,
		func(sv *store.StoredValue) bool {
			if sv.Data.Kind() != crdt.KindRegister {
				applyErr = typeMismatch(key, crdt.KindRegister, sv.Data.Kind())
				return false
			}
			sv.Data.Register.Set(v, s.nodeID)
			push = wire.Encode(sv.Data)
			return true
		},
		func() crdt.Value {
			reg := crdt.NewLWWRegister(s.nodeID)
			reg.Set(v, s.nodeID)
			val := crdt.RegisterValue(reg)
			push = wire.Encode(val)
			return val
		})
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleGetRegister(_ context.Context, key string, _ []byte) ([]byte, *wire.CrdtData, error) {
	reg, err := s.getRegister(key)
	if err != nil {
		return nil, nil, err
	}
	return []byte(reg.Get()), nil, nil
}

func (s *Service) handleAppendRegister(_ context.Context, key string, payload []byte) ([]byte, *wire.CrdtData, error) {
	suffix, err := utf8String(payload)
	if err != nil {
		return nil, nil, err
	}

	var applyErr error
	var push wire.CrdtData
	found := s.store.Update(key, func(sv *store.StoredValue) bool {
		if sv.Data.Kind() != crdt.KindRegister {
			applyErr = typeMismatch(key, crdt.KindRegister, sv.Data.Kind())
			return false
		}
		sv.Data.Register.Append(suffix, s.nodeID)
		push = wire.Encode(sv.Data)
		return true
	})
	if !found {
		return nil, nil, ErrNotFound
	}
	if applyErr != nil {
		return nil, nil, applyErr
	}
	return nil, &push, nil
}

func (s *Service) handleRegisterLen(_ context.Context, key string, _ []byte) ([]byte, *wire.CrdtData, error) {
	reg, err := s.getRegister(key)
	if err != nil {
		return nil, nil, err
	}
	resp := make([]byte, 8)
	binary.BigEndian.PutUint64(resp, uint64(reg.Strlen()))
	return resp, nil, nil
}

func (s *Service) getRegister(key string) (*crdt.LWWRegister, error) {
	sv, ok := s.store.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if sv.Data.Kind() != crdt.KindRegister {
		return nil, typeMismatch(key, crdt.KindRegister, sv.Data.Kind())
	}
	return sv.Data.Register, nil
}
