package orderid

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/howeyc/crc16"
	"github.com/oklog/ulid/v2"
	"k8s.io/utils/clock"

	"github.com/recomma/spotmaker/spot"
)

// ClientOrderID identifies an order placed by one of our loops. Its string
// form is the strategy prefix, a ULID and a CRC16 of both, e.g.
// MM01HF8Z3X6Q2J4T0V9W8Y7K5N3M1A2B.
type ClientOrderID struct {
	Strategy spot.Strategy
	ULID     ulid.ULID
}

func (id ClientOrderID) String() string {
	body := string(id.Strategy) + id.ULID.String()
	return fmt.Sprintf("%s%04X", body, crc16.Checksum([]byte(body), crc16.IBMTable))
}

// CreatedAt is the millisecond timestamp embedded in the ULID.
func (id ClientOrderID) CreatedAt() time.Time {
	return ulid.Time(id.ULID.Time()).UTC()
}

var (
	ErrForeign           = fmt.Errorf("not a client order id issued by this engine")
	ErrIncorrectChecksum = fmt.Errorf("checksum does not match")
)

// prefixes are checked longest first.
var prefixes = []spot.Strategy{spot.StrategyDCA, spot.StrategyMarketMaker}

// Parse decodes an id produced by New. Ids without a known prefix, such as
// bare exchange order ids, return ErrForeign.
func Parse(s string) (ClientOrderID, error) {
	var strategy spot.Strategy
	for _, p := range prefixes {
		if strings.HasPrefix(s, string(p)) {
			strategy = p
			break
		}
	}
	if strategy == "" || len(s) != len(strategy)+ulid.EncodedSize+4 {
		return ClientOrderID{}, ErrForeign
	}

	body, sum := s[:len(s)-4], s[len(s)-4:]
	want, err := strconv.ParseUint(sum, 16, 16)
	if err != nil {
		return ClientOrderID{}, ErrForeign
	}
	if crc16.Checksum([]byte(body), crc16.IBMTable) != uint16(want) {
		return ClientOrderID{}, ErrIncorrectChecksum
	}

	u, err := ulid.ParseStrict(body[len(strategy):])
	if err != nil {
		return ClientOrderID{}, fmt.Errorf("could not decode: %w", err)
	}
	return ClientOrderID{Strategy: strategy, ULID: u}, nil
}

// StrategyOf labels a reconciliation tag. Tags we did not issue belong to the
// market maker, whose sells reuse the buy's tag.
func StrategyOf(tag string) spot.Strategy {
	id, err := Parse(tag)
	if err != nil {
		return spot.StrategyMarketMaker
	}
	return id.Strategy
}

// Generator issues monotonically increasing ids.
type Generator struct {
	mu    sync.Mutex
	clock clock.PassiveClock
	mono  io.Reader
}

// NewGenerator returns a Generator. A nil entropy source is seeded from
// crypto/rand.
func NewGenerator(clk clock.PassiveClock, entropy io.Reader) *Generator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if entropy == nil {
		var seed int64
		_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		entropy = rand.New(rand.NewSource(seed))
	}
	return &Generator{clock: clk, mono: ulid.Monotonic(entropy, 0)}
}

func (g *Generator) New(strategy spot.Strategy) ClientOrderID {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(g.clock.Now().UTC()), g.mono)
	if err != nil {
		// only reachable when entropy is exhausted within one millisecond
		panic(err)
	}
	return ClientOrderID{Strategy: strategy, ULID: u}
}

var defaultGenerator = NewGenerator(nil, nil)

// New returns a fresh client order id string for strategy.
func New(strategy spot.Strategy) string {
	return defaultGenerator.New(strategy).String()
}
