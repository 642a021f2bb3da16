package landmark

// Landmark indices, in the 33-point full-body convention.
const (
	Nose = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// Region is an anatomical group of landmarks.
type Region string

const (
	Head     Region = "head"
	Torso    Region = "torso"
	LeftArm  Region = "left_arm"
	RightArm Region = "right_arm"
	LeftLeg  Region = "left_leg"
	RightLeg Region = "right_leg"
)

// Regions lists every region in reporting order.
var Regions = []Region{Head, Torso, LeftArm, RightArm, LeftLeg, RightLeg}

// Shoulders and hips appear in more than one region.
var regionIndices = map[Region][]int{
	Head: {
		Nose, LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye,
		RightEyeOuter, LeftEar, RightEar, MouthLeft, MouthRight,
	},
	Torso:    {LeftShoulder, RightShoulder, LeftHip, RightHip},
	LeftArm:  {LeftShoulder, LeftElbow, LeftWrist, LeftPinky, LeftIndex, LeftThumb},
	RightArm: {RightShoulder, RightElbow, RightWrist, RightPinky, RightIndex, RightThumb},
	LeftLeg:  {LeftHip, LeftKnee, LeftAnkle, LeftHeel, LeftFootIndex},
	RightLeg: {RightHip, RightKnee, RightAnkle, RightHeel, RightFootIndex},
}

// Indices returns the landmark indices belonging to r, or nil for an unknown region.
func (r Region) Indices() []int {
	return regionIndices[r]
}

// Connection is an edge of the skeleton graph.
type Connection struct {
	A, B int
}

// Connections is the skeleton drawn over each frame: face contour,
// shoulder-hip rectangle, arm chains with hands, and leg chains with feet.
var Connections = []Connection{
	{Nose, LeftEyeInner}, {LeftEyeInner, LeftEye}, {LeftEye, LeftEyeOuter}, {LeftEyeOuter, LeftEar},
	{Nose, RightEyeInner}, {RightEyeInner, RightEye}, {RightEye, RightEyeOuter}, {RightEyeOuter, RightEar},
	{MouthLeft, MouthRight},

	{LeftShoulder, RightShoulder}, {LeftShoulder, LeftHip}, {RightShoulder, RightHip}, {LeftHip, RightHip},

	{LeftShoulder, LeftElbow}, {LeftElbow, LeftWrist},
	{LeftWrist, LeftPinky}, {LeftWrist, LeftIndex}, {LeftWrist, LeftThumb}, {LeftPinky, LeftIndex},
	{RightShoulder, RightElbow}, {RightElbow, RightWrist},
	{RightWrist, RightPinky}, {RightWrist, RightIndex}, {RightWrist, RightThumb}, {RightPinky, RightIndex},

	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle}, {LeftAnkle, LeftHeel}, {LeftHeel, LeftFootIndex}, {LeftAnkle, LeftFootIndex},
	{RightHip, RightKnee}, {RightKnee, RightAnkle}, {RightAnkle, RightHeel}, {RightHeel, RightFootIndex}, {RightAnkle, RightFootIndex},
}
