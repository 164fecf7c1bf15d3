package keygen

var adjectives = []string{
	"agile", "amber", "bold", "brave", "bright", "calm", "clever", "cosmic",
	"crisp", "curious", "daring", "eager", "electric", "fancy", "fierce", "gentle",
	"golden", "happy", "hidden", "jolly", "keen", "lively", "lucky", "mellow",
	"mighty", "misty", "noble", "polite", "proud", "quiet", "rapid", "rustic",
	"silent", "silver", "smooth", "sunny", "swift", "tidy", "vivid", "witty",
}

var nouns = []string{
	"badger", "beacon", "breeze", "canyon", "cedar", "comet", "coral", "crane",
	"dolphin", "ember", "falcon", "fern", "forest", "glacier", "harbor", "heron",
	"island", "lantern", "lynx", "maple", "meadow", "meteor", "otter", "panda",
	"pebble", "pine", "planet", "quartz", "raven", "river", "robin", "sparrow",
	"spruce", "summit", "thunder", "tiger", "valley", "walrus", "willow", "zephyr",
}
