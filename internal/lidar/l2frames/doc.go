// Package l2frames owns Layer 2 (Frames) of the LiDAR data model.
//
// Responsibilities: per-laser calibration, polar → Cartesian point geometry,
// converting decoded VLP-16 packets into timestamped points, and folding the
// point stream into one frame per sensor revolution.
// Key types: Calibration, PointCloudConverter, PointList, FrameConverter, Frame.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2frames
