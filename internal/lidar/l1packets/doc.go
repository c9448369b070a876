// Package l1packets owns Layer 1 (Packets) of the LiDAR data model.
//
// Responsibilities: the decoded Velodyne packet model (columns, firings,
// raw returns, return mode) and the sensor timing constants needed to
// interpolate within a packet. Byte-level decoding lives in parse/, UDP
// ingestion and pcap replay in network/.
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1packets
