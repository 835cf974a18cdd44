package kafka

import "time"

type ProducerOption func(*ProducerConfig)

// ProducerConfig feeds kafka.Writer. Zero values fall back to the defaults
// set in NewProducer.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
	// HashByKey routes equal keys to one partition, which keeps the events
	// of one poll in order.
	HashByKey bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) { c.Brokers = brokers }
}

// WithDelivery sets acks (-1 waits for all replicas), writer retries and
// the compression codec (gzip, snappy, lz4, zstd).
func WithDelivery(acks, maxAttempts int, compression string) ProducerOption {
	return func(c *ProducerConfig) {
		c.RequiredAcks = acks
		if maxAttempts > 0 {
			c.MaxAttempts = maxAttempts
		}
		if compression != "" {
			c.Compression = compression
		}
	}
}

// WithBatching sets the linger time and whether writes return before the
// broker acknowledges them.
func WithBatching(linger time.Duration, async bool) ProducerOption {
	return func(c *ProducerConfig) {
		if linger > 0 {
			c.BatchTimeout = linger
		}
		c.Async = async
	}
}

func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if d > 0 {
			c.WriteTimeout = d
		}
	}
}

func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) { c.HashByKey = hash }
}
