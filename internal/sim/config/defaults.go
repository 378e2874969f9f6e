package config

const (
	DefaultMaxSteps        = 200
	DefaultActionTimeoutMs = 1000
)

func defaults() GGConfig {
	return GGConfig{
		MaxSteps:        DefaultMaxSteps,
		ActionTimeoutMs: DefaultActionTimeoutMs,
		EntityTypes:     builtinTypes(),
		Cameras: map[string]CameraConfig{
			DefaultCamera: defaultCamera(),
		},
	}
}

func builtinTypes() map[string]EntityType {
	return map[string]EntityType{
		BuiltinWall: {
			Kind:     KindStatic,
			Blocking: true,
		},
		BuiltinGoblet: {
			Kind:        KindResource,
			Collectible: true,
			Reward:      1,
		},
		BuiltinAgent: {
			Kind:      KindUnit,
			Blocking:  true,
			Collector: true,
			Health:    1,
		},
		BuiltinGhost: {
			Kind:    KindUnit,
			Lethal:  true,
			Phasing: true,
		},
	}
}

func defaultCamera() CameraConfig {
	return CameraConfig{
		Radius:   2,
		Shape:    ShapeSquare,
		Channels: append([]Channel(nil), AllChannels...),
	}
}

// defaultAgent is the base every agent entry is decoded over.
func defaultAgent() AgentConfig {
	return AgentConfig{
		EntityType: BuiltinAgent,
		Actions:    []string{ActionNoop, ActionMove, ActionInteract},
		Camera:     DefaultCamera,
		Controller: ControllerExternal,
		Transition: [4]float64{1, 0, 0, 0},
		MoveRange:  1,
		Damage:     1,
		Reach:      1,
	}
}

// defaultType is the base for entity types that do not override a built-in.
func defaultType() EntityType {
	return EntityType{Kind: KindStatic}
}
