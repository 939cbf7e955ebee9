package harness_test

import (
	"encoding/binary"

	"github.com/juju/errors"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/config"
	"github.com/sarchlab/mcusim/loader"
	"github.com/sarchlab/mcusim/system"
)

const flashBase = 0x08000000

// blinky sets PB0 through GPIOB BSRR, prints "PB0=<ODR bit 0>" on USART1,
// clears PB0 through the reset half of BSRR, prints again and spins.
var blinky = []uint16{
	0xF640, 0x4000, // 0x08: movw r0, #0x0C00
	0xF2C4, 0x0001, // 0x0C: movt r0, #0x4001     GPIOB
	0xF643, 0x0100, // 0x10: movw r1, #0x3800
	0xF2C4, 0x0101, // 0x14: movt r1, #0x4001     USART1
	0x2201,         // 0x18: movs r2, #1
	0x6102,         // 0x1A: str r2, [r0, #0x10]  BSRR set PB0
	0xF000, 0xF806, // 0x1C: bl print
	0x2201,         // 0x20: movs r2, #1
	0x0412,         // 0x22: lsls r2, r2, #16
	0x6102,         // 0x24: str r2, [r0, #0x10]  BSRR reset PB0
	0xF000, 0xF801, // 0x26: bl print
	0xE7FE,         // 0x2A: b .
	// print:
	0x2350, 0x604B, // 0x2C: movs r3, #'P'; str r3, [r1, #4]
	0x2342, 0x604B, // 0x30: 'B'
	0x2330, 0x604B, // 0x34: '0'
	0x233D, 0x604B, // 0x38: '='
	0x68C3, // 0x3C: ldr r3, [r0, #0x0C]  ODR
	0x2401, // 0x3E: movs r4, #1
	0x4023, // 0x40: ands r3, r4
	0x3330, // 0x42: adds r3, #'0'
	0x604B, // 0x44: str r3, [r1, #4]
	0x230A, // 0x46: movs r3, #'\n'
	0x604B, // 0x48: str r3, [r1, #4]
	0x4770, // 0x4A: bx lr
}

// blinkyDoneStep is the step that writes the final '0' of "PB0=0".
const blinkyDoneStep = 40

var errMissing = errors.New("firmware missing")

func image(code ...uint16) []byte {
	img := make([]byte, 8+2*len(code))
	binary.LittleEndian.PutUint32(img[0:], 0x20005000)
	binary.LittleEndian.PutUint32(img[4:], flashBase+9)
	for i, h := range code {
		binary.LittleEndian.PutUint16(img[8+2*i:], h)
	}
	return img
}

func newBoard(code ...uint16) *system.Board {
	return newBoardWith(config.DefaultCortexM(), code...)
}

func newBoardWith(desc *config.System, code ...uint16) *system.Board {
	prog := loader.ParseRaw(image(code...), flashBase)
	brd, err := system.Build(desc, prog)
	Expect(err).NotTo(HaveOccurred())
	return brd
}
