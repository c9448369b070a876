// Package network receives raw VLP-16 datagrams, either live over UDP or
// replayed from pcap/pcapng captures, decodes them and hands the decoded
// packets to a PacketHandler. It can also mirror the raw datagrams to another
// UDP endpoint.
package network
