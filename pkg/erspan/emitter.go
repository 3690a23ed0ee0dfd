//go:build unix

package erspan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type recordEmitter interface {
	emit([]*record) error
	teardown() error
	setDumper(dumper)
}

type emitterConstructor func(RecorderArguments) (recordEmitter, error)

const (
	// DefaultAwsS3FlushCount is limit of record buffer for S3 emitter.
	DefaultAwsS3FlushCount = 4096
)

type baseEmitter struct {
	Dumper dumper
}

func (x *baseEmitter) setDumper(f dumper) { x.Dumper = f }
func (x *baseEmitter) teardown() error    { return nil }

func newEmitter(args RecorderArguments, d dumper) (recordEmitter, error) {
	emitterMap := map[string]emitterConstructor{
		"fs": newFsStreamEmitter,
		"s3": newS3StreamEmitter,
	}

	constructor, ok := emitterMap[args.Emitter]
	if !ok {
		return nil, fmt.Errorf("The emitter is not supported: %q", args.Emitter)
	}
	if d == nil {
		return nil, fmt.Errorf("No Dumper. Dumper is required for new emitter")
	}

	emitter, err := constructor(args)
	if err != nil {
		return nil, err
	}

	emitter.setDumper(d)
	return emitter, nil
}

type fsStreamEmitter struct {
	baseEmitter
	DirPath  string
	FileName string
	fd       *os.File
}

func newFsStreamEmitter(args RecorderArguments) (recordEmitter, error) {
	emitter := fsStreamEmitter{
		DirPath:  ".",
		FileName: "erspan." + args.Format,
	}

	if args.FsDirPath != "" {
		emitter.DirPath = args.FsDirPath
	}
	if args.FsFileName != "" {
		emitter.FileName = args.FsFileName
	}

	Logger.WithFields(logrus.Fields{
		"dirpath":  emitter.DirPath,
		"fileName": emitter.FileName,
	}).Info("Configured FileSystem Emitter (Stream)")

	return &emitter, nil
}

func (x *fsStreamEmitter) emit(records []*record) error {
	if x.fd == nil {
		path := filepath.Join(x.DirPath, x.FileName)
		Logger.WithField("filepath", path).Debug("Opening output file")
		fd, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "Fail to create a dump file for emitter")
		}
		x.fd = fd

		if err := x.Dumper.open(x.fd); err != nil {
			return err
		}
	}

	return x.Dumper.dump(records, x.fd)
}

func (x *fsStreamEmitter) teardown() error {
	if x.fd == nil {
		return nil
	}
	defer func() {
		x.fd.Close()
		x.fd = nil
	}()

	return x.Dumper.close(x.fd)
}

type s3Uploader interface {
	Upload(input *s3manager.UploadInput, options ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

var newS3Uploader = func(awsRegion string) s3Uploader {
	ssn := session.Must(session.NewSession(&aws.Config{
		Region: aws.String(awsRegion),
	}))
	return s3manager.NewUploader(ssn)
}

type s3StreamEmitter struct {
	baseEmitter
	Argument   RecorderArguments
	uploader   s3Uploader
	buffer     []*record
	flushCount int
}

func newS3StreamEmitter(args RecorderArguments) (recordEmitter, error) {
	if args.AwsRegion == "" {
		return nil, fmt.Errorf("AwsRegion is not set for S3 emitter")
	}
	if args.AwsS3Bucket == "" {
		return nil, fmt.Errorf("AwsS3Bucket is not set for S3 emitter")
	}

	emitter := s3StreamEmitter{
		Argument:   args,
		uploader:   newS3Uploader(args.AwsRegion),
		flushCount: DefaultAwsS3FlushCount,
	}

	if args.AwsS3FlushCount > 0 {
		emitter.flushCount = args.AwsS3FlushCount
	}

	Logger.WithFields(logrus.Fields{
		"region":     args.AwsRegion,
		"S3Bucket":   args.AwsS3Bucket,
		"S3Prefix":   args.AwsS3Prefix,
		"addTimeKey": args.AwsS3AddTimeKey,
		"flushCount": emitter.flushCount,
	}).Info("Configured AWS S3 Emitter")

	return &emitter, nil
}

func (x *s3StreamEmitter) objectKey(now time.Time) string {
	key := x.Argument.AwsS3Prefix
	if x.Argument.AwsS3AddTimeKey {
		key += now.Format("2006/01/02/15/")
	}
	return key + now.Format("20060102_150405_") +
		strings.Replace(uuid.New().String(), "-", "", -1) + "." + x.Argument.Format
}

func (x *s3StreamEmitter) flush() error {
	if len(x.buffer) == 0 {
		return nil
	}

	Logger.WithField("bufferLength", len(x.buffer)).Trace("trying flush to S3")

	records := x.buffer
	x.buffer = nil

	reader, writer := io.Pipe()
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		err := x.Dumper.open(writer)
		if err == nil {
			err = x.Dumper.dump(records, writer)
		}
		if err == nil {
			err = x.Dumper.close(writer)
		}
		if err != nil {
			errCh <- errors.Wrap(err, "Fail to dump records for S3 object")
		}
		writer.CloseWithError(err)
	}()

	key := x.objectKey(time.Now().UTC())
	resp, err := x.uploader.Upload(&s3manager.UploadInput{
		Body:   reader,
		Bucket: aws.String(x.Argument.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		reader.CloseWithError(err)
		<-errCh
		return errors.Wrap(err, "Fail to PutObject in Emitter")
	}

	if err := <-errCh; err != nil {
		return err
	}

	Logger.WithFields(logrus.Fields{
		"s3resp": resp,
		"bucket": x.Argument.AwsS3Bucket,
		"key":    key,
	}).Trace("Flushed data to S3")

	return nil
}

func (x *s3StreamEmitter) emit(records []*record) error {
	x.buffer = append(x.buffer, records...)

	if len(x.buffer) >= x.flushCount {
		if err := x.flush(); err != nil {
			return errors.Wrap(err, "Fail to upload object to S3")
		}
	}

	return nil
}

func (x *s3StreamEmitter) teardown() error {
	if err := x.flush(); err != nil {
		return errors.Wrap(err, "Fail to upload object to S3 in closing")
	}

	return nil
}
