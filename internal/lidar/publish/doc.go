// Package publish sends completed revolution frames to external consumers.
// The MQTT publisher encodes each frame as a JSON message on
// <topic>/<sensor_id>.
package publish
