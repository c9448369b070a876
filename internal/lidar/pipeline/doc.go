// Package pipeline drives decoded VLP-16 packets through a frame assembler
// and fans completed revolution frames out to sinks.
//
// It is the composition point between the network layer (l1packets/network),
// the frame assembler (l2frames) and the output adapters (publish, monitor).
// None of those packages import pipeline/.
package pipeline
