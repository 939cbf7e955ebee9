package periph

import (
	"sort"
	"strconv"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/bus"
	"github.com/sarchlab/mcusim/intc"
)

// Spec describes one peripheral instance to construct.
type Spec struct {
	ID   string
	Type string
	Base uint32
	// Size is the register window; zero selects the type's default.
	Size uint32
	// Line is the controller line the instance raises, or -1.
	Line   int
	Config map[string]string
}

// Deps are the machine services a peripheral may depend on.
type Deps struct {
	Bus        bus.Accessor
	Controller *intc.Controller
}

// Constructor builds a peripheral from its spec.
type Constructor func(spec Spec, deps Deps) (bus.Peripheral, error)

type entry struct {
	build       Constructor
	defaultSize uint32
}

var registry = map[string]entry{}

// RegisterType makes a peripheral type available to Build.
func RegisterType(typ string, defaultSize uint32, build Constructor) {
	registry[typ] = entry{build: build, defaultSize: defaultSize}
}

// Types lists the registered peripheral types.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs a peripheral and returns it with its window size.
func Build(spec Spec, deps Deps) (bus.Peripheral, uint32, error) {
	e, ok := registry[spec.Type]
	if !ok {
		return nil, 0, errors.NotFoundf("peripheral type %q for %q", spec.Type, spec.ID)
	}
	p, err := e.build(spec, deps)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "building %s", spec.ID)
	}
	size := spec.Size
	if size == 0 {
		size = e.defaultSize
	}
	return p, size, nil
}

func configInt(spec Spec, key string, def int) (int, error) {
	s, ok := spec.Config[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("%s.%s value %q", spec.ID, key, s)
	}
	return int(v), nil
}

func configUint(spec Spec, key string, def uint32) (uint32, error) {
	s, ok := spec.Config[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("%s.%s value %q", spec.ID, key, s)
	}
	return uint32(v), nil
}

func init() {
	RegisterType("gpio", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return NewGPIO(s.ID), nil
	})
	RegisterType("uart", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		layout, err := ParseUARTLayout(s.Config["layout"])
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewUART(s.ID, layout, s.Line), nil
	})
	RegisterType("dma", 0x400, func(s Spec, d Deps) (bus.Peripheral, error) {
		if d.Bus == nil {
			return nil, errors.NotValidf("dma without a bus")
		}
		return NewDMA(s.ID, d.Bus, s.Line), nil
	})
	RegisterType("rcc", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return NewRCC(s.ID), nil
	})
	RegisterType("timer", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return NewTimer(s.ID, s.Line), nil
	})
	RegisterType("systick", 0x10, func(s Spec, _ Deps) (bus.Peripheral, error) {
		line, err := configInt(s, "exception", intc.SysTick)
		if err != nil {
			return nil, err
		}
		return NewSysTick(s.ID, line), nil
	})
	RegisterType("nvic", NVICSize, func(s Spec, d Deps) (bus.Peripheral, error) {
		if d.Controller == nil {
			return nil, errors.NotValidf("nvic without a controller")
		}
		return NewNVIC(s.ID, d.Controller), nil
	})
	RegisterType("scb", SCBSize, func(s Spec, d Deps) (bus.Peripheral, error) {
		if d.Controller == nil {
			return nil, errors.NotValidf("scb without a controller")
		}
		return NewSCB(s.ID, d.Controller), nil
	})
	RegisterType("clint", CLINTSize, func(s Spec, d Deps) (bus.Peripheral, error) {
		if d.Controller == nil {
			return nil, errors.NotValidf("clint without a controller")
		}
		return NewCLINT(s.ID, d.Controller), nil
	})
	RegisterType("dwt", DWTSize, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return NewDWT(s.ID), nil
	})
	RegisterType("afio", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return NewAFIO(s.ID), nil
	})
	RegisterType("exti", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		shared := s.Config["shared_line"] == "true"
		return NewEXTI(s.ID, s.Line, shared), nil
	})
	RegisterType("stub", 0x400, func(s Spec, _ Deps) (bus.Peripheral, error) {
		return stubFromConfig(s)
	})
}
