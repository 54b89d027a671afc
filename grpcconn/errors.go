package grpcconn

import "errors"

// ErrDescriptor wraps every descriptor pool failure: reflection resolution,
// proto compilation, or a (service, method) lookup miss (spec.md Â§4.I's
// DescriptorError family, scoped to this package).
var ErrDescriptor = errors.New("grpcconn: descriptor error")
