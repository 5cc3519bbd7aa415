// Package config defines the collaborator contract the partition engine
// consumes: the root storage path, per-partition segment-rollover limits,
// and the message-deduplication settings (spec.md §6).
package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"time"
)

// DeduplicationConfig enumerates the Deduplicator's configuration, spec.md §4.4.
type DeduplicationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries uint64        `yaml:"max_entries"`
	Expiry     time.Duration `yaml:"expiry"`
}

// Config is the root config for the partition storage engine.
type Config struct {
	Path string `yaml:"path"`

	SegmentSize         uint64        `yaml:"segment_size"`
	SegmentMessageCount uint64        `yaml:"segment_messages_count"`
	SegmentTime         time.Duration `yaml:"segment_time"`

	MessageDeduplication DeduplicationConfig `yaml:"message_deduplication"`
}

// NewDefaultConfig returns a Config populated with RegisterFlagsAndApplyDefaults,
// the same bootstrapping idiom cmd/tempo/app.NewDefaultConfig uses.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	fs := flag.NewFlagSet("", flag.PanicOnError)
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	return cfg
}

// RegisterFlagsAndApplyDefaults registers flags under prefix and applies defaults,
// mirroring the *Config.RegisterFlagsAndApplyDefaults convention used throughout tempo.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Path, prefix+"path", "/var/lib/logstream", "root directory for partition storage")
	f.Uint64Var(&c.SegmentSize, prefix+"segment.size-bytes", 1024*1024*1024, "roll the active segment once its log file reaches this many bytes")
	f.Uint64Var(&c.SegmentMessageCount, prefix+"segment.messages-count", 0, "roll the active segment once it holds this many messages (0 disables the check)")
	f.DurationVar(&c.SegmentTime, prefix+"segment.time", 0, "roll the active segment once it has been open this long (0 disables the check)")

	f.BoolVar(&c.MessageDeduplication.Enabled, prefix+"dedup.enabled", false, "enable message-id deduplication")
	f.Uint64Var(&c.MessageDeduplication.MaxEntries, prefix+"dedup.max-entries", 0, "maximum number of tracked message ids (0 is unlimited)")
	f.DurationVar(&c.MessageDeduplication.Expiry, prefix+"dedup.expiry", 0, "ttl for tracked message ids (0 disables the ttl)")
}

// PartitionPath returns the deterministic on-disk root for a partition,
// spec.md §6: {root}/streams/{stream_id}/topics/{topic_id}/partitions/{partition_id}.
func (c *Config) PartitionPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(c.Path, "streams", fmt.Sprint(streamID), "topics", fmt.Sprint(topicID), "partitions", fmt.Sprint(partitionID))
}

// OffsetsPath returns the partition's offsets/ directory, spec.md §6. Segment
// files are not kept here; the partition path itself holds them.
func (c *Config) OffsetsPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(c.PartitionPath(streamID, topicID, partitionID), "offsets")
}

// ConsumerOffsetsPath returns the per-consumer offset directory, spec.md §6.
func (c *Config) ConsumerOffsetsPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(c.PartitionPath(streamID, topicID, partitionID), "consumer_offsets")
}

// ConsumerGroupOffsetsPath returns the per-consumer-group offset directory, spec.md §6.
func (c *Config) ConsumerGroupOffsetsPath(streamID, topicID, partitionID uint32) string {
	return filepath.Join(c.PartitionPath(streamID, topicID, partitionID), "consumer_group_offsets")
}
