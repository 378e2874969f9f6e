// Package scripting runs agent policies written in Lua.
package scripting

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/world"
)

const actFunc = "act"

// LuaSource calls a global act(agent_id, view) defined by a script. act returns
// either a string ("UP", "NOOP", "MOVE 1 0", "INTERACT 7") or a table
// {kind=, dx=, dy=, target=}; nil means NOOP.
//
// One VM serves every agent; calls are serialized. The call context is installed
// on the VM so a cancelled or timed out call stops the script.
type LuaSource struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

func NewLuaSource(path string, log *zap.Logger) (*LuaSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return newLuaSource(log, func(vm *lua.LState) error {
		if err := vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		log.Debug("loaded lua script", zap.String("file", path))
		return nil
	})
}

// NewLuaSourceString loads the policy from source text.
func NewLuaSourceString(src string, log *zap.Logger) (*LuaSource, error) {
	return newLuaSource(log, func(vm *lua.LState) error {
		if err := vm.DoString(src); err != nil {
			return fmt.Errorf("load script: %w", err)
		}
		return nil
	})
}

func newLuaSource(log *zap.Logger, load func(*lua.LState) error) (*LuaSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := load(vm); err != nil {
		vm.Close()
		return nil, err
	}
	if _, ok := vm.GetGlobal(actFunc).(*lua.LFunction); !ok {
		vm.Close()
		return nil, fmt.Errorf("script does not define %s(agent_id, view)", actFunc)
	}
	return &LuaSource{vm: vm, log: log}, nil
}

func (s *LuaSource) Act(ctx context.Context, agentID string, view camera.View) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vm.SetContext(ctx)
	defer s.vm.RemoveContext()

	if err := s.vm.CallByParam(lua.P{
		Fn:      s.vm.GetGlobal(actFunc),
		NRet:    1,
		Protect: true,
	}, lua.LString(agentID), s.viewTable(view)); err != nil {
		s.log.Warn("lua act error", zap.String("agent", agentID), zap.Error(err))
		return action.Action{}, fmt.Errorf("lua act: %w", err)
	}
	ret := s.vm.Get(-1)
	s.vm.Pop(1)
	return decodeAction(ret)
}

func (s *LuaSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vm.Close()
}

func (s *LuaSource) viewTable(v camera.View) *lua.LTable {
	L := s.vm
	t := L.NewTable()
	t.RawSetString("agent_id", lua.LString(v.AgentID))
	t.RawSetString("tick", lua.LNumber(v.Tick))
	t.RawSetString("x", lua.LNumber(v.Center.X))
	t.RawSetString("y", lua.LNumber(v.Center.Y))
	t.RawSetString("radius", lua.LNumber(v.Radius))
	t.RawSetString("shape", lua.LString(v.Shape))

	ents := L.NewTable()
	for _, e := range v.Entities {
		et := L.NewTable()
		et.RawSetString("id", lua.LNumber(e.ID))
		if e.Type != "" {
			et.RawSetString("type", lua.LString(e.Type))
		}
		if e.Pos != nil {
			et.RawSetString("x", lua.LNumber(e.Pos.X))
			et.RawSetString("y", lua.LNumber(e.Pos.Y))
		}
		if e.Health != nil {
			et.RawSetString("health", lua.LNumber(*e.Health))
		}
		if e.Reward != nil {
			et.RawSetString("reward", lua.LNumber(*e.Reward))
		}
		if e.Owner != "" {
			et.RawSetString("owner", lua.LString(e.Owner))
		}
		if e.Blocking != nil {
			et.RawSetString("blocking", lua.LBool(*e.Blocking))
		}
		ents.Append(et)
	}
	t.RawSetString("entities", ents)
	return t
}

func decodeAction(v lua.LValue) (action.Action, error) {
	switch x := v.(type) {
	case *lua.LNilType:
		return action.Noop(), nil
	case lua.LString:
		return action.Parse(string(x))
	case *lua.LTable:
		kind := action.Kind(lua.LVAsString(x.RawGetString("kind")))
		switch kind {
		case action.KindNoop, "":
			return action.Noop(), nil
		case action.KindMove:
			return action.Move(
				int(lua.LVAsNumber(x.RawGetString("dx"))),
				int(lua.LVAsNumber(x.RawGetString("dy"))),
			), nil
		case action.KindInteract:
			return action.Interact(world.EntityID(lua.LVAsNumber(x.RawGetString("target")))), nil
		}
		return action.Parse(string(kind))
	}
	return action.Action{}, fmt.Errorf("lua act returned %s", v.Type())
}
