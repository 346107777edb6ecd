/*
go-peoplecount counts people entering and leaving through a doorway from the
output of an object detector.  Persons and umbrellas are tracked with a
centroid tracker, persons carrying an umbrella are correlated and merged into
a single composite entity, and crossings of the frame's horizontal midline
within a counting corridor are counted as ENTER or EXIT.

The core packages are tracker, counter and pipeline.  The pipeline is an
explicit per stream object and is not safe for concurrent use.  Detections
are supplied by the source package, counts are sent by the report package,
history is kept by the store package and the live state is served by the
server package.

See example/counter for a program wiring everything together.
*/
package peoplecount
